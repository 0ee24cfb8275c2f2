package transport

import (
	"context"
	"errors"
	"testing"
)

type stubReader struct {
	resp CardResponse
	err  error
	got  CardRequest
}

func (s *stubReader) Transmit(ctx context.Context, req CardRequest) (CardResponse, error) {
	s.got = req
	return s.resp, s.err
}
func (s *stubReader) IsCardPresent() bool { return true }
func (s *stubReader) Close() error        { return nil }

func TestCardLinkTransmitSingleAPDU(t *testing.T) {
	r := &stubReader{resp: CardResponse{Responses: [][]byte{{0x90, 0x00}}}}
	link := NewCardLink(r, nil)

	out, err := link.Transmit([]byte{0x00, 0xA4, 0x04, 0x00})
	if err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if len(out) != 2 || out[0] != 0x90 || out[1] != 0x00 {
		t.Errorf("Transmit() = %x, want 9000", out)
	}
	if len(r.got.APDUs) != 1 {
		t.Errorf("expected a single-APDU batch, got %d", len(r.got.APDUs))
	}
}

func TestCardLinkTransmitPropagatesReaderError(t *testing.T) {
	r := &stubReader{err: errors.New("reader gone")}
	link := NewCardLink(r, nil)
	if _, err := link.Transmit([]byte{0x00}); err == nil {
		t.Error("expected error to propagate")
	}
}

func TestCardLinkTransmitShortBatch(t *testing.T) {
	r := &stubReader{resp: CardResponse{Responses: nil}}
	link := NewCardLink(r, nil)
	if _, err := link.Transmit([]byte{0x00}); err == nil {
		t.Error("expected error for missing response")
	}
}

func TestCardLinkTransmitResponseErr(t *testing.T) {
	r := &stubReader{resp: CardResponse{Err: errors.New("card removed mid batch")}}
	link := NewCardLink(r, nil)
	if _, err := link.Transmit([]byte{0x00}); err == nil {
		t.Error("expected CardResponse.Err to propagate")
	}
}
