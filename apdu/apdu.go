// Package apdu builds and parses ISO-7816 command/response APDUs.
//
// This is the one piece of the core with no cryptographic or session
// state: it classifies ISO-7816-3 case 1..4 commands, concatenates their
// bytes, and splits a raw card answer into data-out plus status word.
package apdu

import (
	"encoding/binary"
	"fmt"
)

// Case is the ISO-7816-3 §12.1 command case.
type Case int

const (
	// Case1 has no command data and no expected response data (Lc=0, Le absent).
	Case1 Case = iota
	// Case2 has no command data but an expected response (Le present).
	Case2
	// Case3 has command data but no expected response (Lc present, Le absent).
	Case3
	// Case4 has both command data and an expected response (Lc and Le present).
	Case4
)

func (c Case) String() string {
	switch c {
	case Case1:
		return "case1"
	case Case2:
		return "case2"
	case Case3:
		return "case3"
	case Case4:
		return "case4"
	default:
		return "unknown"
	}
}

// Request is a built C-APDU together with the case it was classified as,
// so callers (notably the MAC chain, rule CL-C4-MAC.1) don't need to
// re-derive the case from raw bytes.
type Request struct {
	Bytes []byte
	Case  Case
}

// Build constructs a C-APDU from its header and optional data/Le.
// le == nil means no Le byte is sent (case 1 or 3). A non-nil le of 0 means
// "Le=0x00", i.e. accept any response length.
func Build(cla, ins, p1, p2 byte, data []byte, le *int) Request {
	hasData := len(data) > 0
	hasLe := le != nil

	var c Case
	switch {
	case !hasData && !hasLe:
		c = Case1
	case !hasData && hasLe:
		c = Case2
	case hasData && !hasLe:
		c = Case3
	default:
		c = Case4
	}

	out := make([]byte, 0, 5+len(data)+1)
	out = append(out, cla, ins, p1, p2)
	if hasData {
		out = append(out, byte(len(data)))
		out = append(out, data...)
	}
	if hasLe {
		out = append(out, byte(*le))
	}

	return Request{Bytes: out, Case: c}
}

// IsCase4 reports whether req is an ISO case-4 APDU (data-in and data-out).
// Used by the MAC chain to strip the trailing Le byte before absorbing the
// request (rule CL-C4-MAC.1).
func (r Request) IsCase4() bool {
	return r.Case == Case4
}

// StripLeIfCase4 returns the request bytes with the trailing Le byte
// removed when the request is case 4, and the bytes unchanged otherwise.
func (r Request) StripLeIfCase4() []byte {
	if r.Case == Case4 && len(r.Bytes) > 0 {
		return r.Bytes[:len(r.Bytes)-1]
	}
	return r.Bytes
}

// Response is a parsed R-APDU: the data-out body plus the 16-bit status word.
type Response struct {
	Data []byte
	SW   uint16
}

// ParseResponse splits a raw card answer into data-out and status word.
// Status words are 16-bit big-endian, the last two bytes of the response.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("apdu: response too short: %d bytes", len(raw))
	}
	sw := binary.BigEndian.Uint16(raw[len(raw)-2:])
	return Response{Data: raw[:len(raw)-2], SW: sw}, nil
}

// IsSuccess reports whether sw is the universal success status word 0x9000.
func IsSuccess(sw uint16) bool {
	return sw == 0x9000
}
