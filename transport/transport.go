// Package transport defines the external transport contract the core
// state machine is built against: a "proxy reader" that takes a batch
// of APDUs destined for a single card or SAM and returns their
// responses in order. Selection, channel control, and the actual byte
// pipe are all external collaborators — this package only names the
// contract; transport/pcsc provides one concrete implementation of it.
package transport

import "context"

// CardRequest is a batch of APDUs to send to one card/SAM in order.
// CloseChannelAfter tells the reader whether the physical channel may
// be released once the batch completes.
type CardRequest struct {
	APDUs             [][]byte
	CloseChannelAfter bool
}

// CardResponse carries the raw response bytes for each APDU in the
// matching CardRequest, in the same order. If the card/SAM stopped
// responding partway through the batch, Responses holds only the
// APDUs that completed and Err explains why the rest are missing.
type CardResponse struct {
	Responses [][]byte
	Err       error
}

// Reader is the contract the transaction/session layers are built
// against. Implementations own reader selection, protocol negotiation,
// and channel lifecycle; the core only calls Transmit.
type Reader interface {
	Transmit(ctx context.Context, req CardRequest) (CardResponse, error)
	IsCardPresent() bool
	Close() error
}

// CardLink adapts a Reader to the transmit contract the session engine
// consumes: Transmit sends one APDU as a one-element batch and
// TransmitBatch sends several APDUs in one request.
type CardLink struct {
	Reader Reader
	Ctx    context.Context
}

// NewCardLink wraps r for single-APDU transmission with the given
// context; a nil context defaults to context.Background.
func NewCardLink(r Reader, ctx context.Context) *CardLink {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CardLink{Reader: r, Ctx: ctx}
}

// Transmit implements session.CardLink.
func (c *CardLink) Transmit(apdu []byte) ([]byte, error) {
	resp, err := c.Reader.Transmit(c.Ctx, CardRequest{APDUs: [][]byte{apdu}})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if len(resp.Responses) != 1 {
		return nil, errShortBatch{got: len(resp.Responses)}
	}
	return resp.Responses[0], nil
}

// TransmitBatch implements session.CardLink's multi-APDU path: every apdu
// is sent as one CardRequest, so a sub-session's writes and its closing
// CLOSE_SECURE_SESSION (and a trailing ratification APDU) reach the reader
// together instead of as separate round trips. Responses already received
// are returned alongside any error (CL-RAT-DELAY.1 relies on a short,
// non-nil-error batch to distinguish a lost ratification answer from a
// lost command response).
func (c *CardLink) TransmitBatch(apdus [][]byte) ([][]byte, error) {
	resp, err := c.Reader.Transmit(c.Ctx, CardRequest{APDUs: apdus})
	if err != nil {
		return resp.Responses, err
	}
	if resp.Err != nil {
		return resp.Responses, resp.Err
	}
	return resp.Responses, nil
}

type errShortBatch struct{ got int }

func (e errShortBatch) Error() string {
	if e.got == 0 {
		return "transport: no response returned for apdu"
	}
	return "transport: expected a single response, got more than one"
}
