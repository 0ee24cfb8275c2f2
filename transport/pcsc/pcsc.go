// Package pcsc implements transport.Reader over a real PC/SC smart
// card reader. Grounded on the teacher's card.Reader (ListReaders,
// Connect, Transmit, Close, Reconnect) generalized from a one-shot CLI
// helper into a reusable transport.Reader.
package pcsc

import (
	"context"
	"fmt"

	"github.com/ebfe/scard"

	"github.com/eclipse-keyple/keyple-card-calypso-go/transport"
)

// Reader connects to one PC/SC reader slot and speaks transport.Reader
// over it. Not safe for concurrent use.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
	atr  []byte
}

// ListReaders returns the names of all PC/SC readers visible to the
// system's resource manager.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	return readers, nil
}

// Connect opens a shared connection to the reader at readerIndex (as
// returned by ListReaders).
func Connect(readerIndex int) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	if len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: no readers found")
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: reader index %d out of range (0-%d)", readerIndex, len(readers)-1)
	}

	name := readers[readerIndex]
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: connect to %q: %w", name, err)
	}

	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, fmt.Errorf("pcsc: card status: %w", err)
	}

	return &Reader{ctx: ctx, card: card, name: name, atr: status.Atr}, nil
}

// ConnectFirst connects to the first listed reader (index 0); it does not
// look for another reader when that one holds no card.
func ConnectFirst() (*Reader, error) {
	return Connect(0)
}

// Transmit sends the batch of APDUs to the card in order, stopping at
// the first transport-level failure. Responses already received are
// still returned alongside the error (CL-RAT-DELAY.1 relies on this:
// a failure transmitting a trailing ratification APDU is distinct from
// losing the command's own response).
func (r *Reader) Transmit(ctx context.Context, req transport.CardRequest) (transport.CardResponse, error) {
	resp := transport.CardResponse{Responses: make([][]byte, 0, len(req.APDUs))}
	for _, apdu := range req.APDUs {
		if err := ctx.Err(); err != nil {
			resp.Err = err
			return resp, err
		}
		raw, err := r.card.Transmit(apdu)
		if err != nil {
			resp.Err = fmt.Errorf("pcsc: transmit: %w", err)
			return resp, resp.Err
		}
		resp.Responses = append(resp.Responses, raw)
	}
	if req.CloseChannelAfter {
		_ = r.Close()
	}
	return resp, nil
}

// IsCardPresent reports whether the reader still sees a card.
func (r *Reader) IsCardPresent() bool {
	_, err := r.card.Status()
	return err == nil
}

// Close releases the card handle and the PC/SC context.
func (r *Reader) Close() error {
	if r.card != nil {
		_ = r.card.Disconnect(scard.LeaveCard)
	}
	if r.ctx != nil {
		_ = r.ctx.Release()
	}
	return nil
}

// Reconnect resets the card (warm, or cold if cold is true) and
// refreshes the cached ATR.
func (r *Reader) Reconnect(cold bool) error {
	if r.card == nil {
		return fmt.Errorf("pcsc: no card connected")
	}
	initType := scard.ResetCard
	if cold {
		initType = scard.UnpowerCard
	}
	if err := r.card.Reconnect(scard.ShareShared, scard.ProtocolAny, initType); err != nil {
		return fmt.Errorf("pcsc: reconnect: %w", err)
	}
	if status, err := r.card.Status(); err == nil {
		r.atr = status.Atr
	}
	return nil
}

// Name returns the PC/SC reader name this Reader is bound to.
func (r *Reader) Name() string { return r.name }

// ATR returns the card's Answer To Reset bytes from the last
// connect/reconnect.
func (r *Reader) ATR() []byte { return r.atr }
