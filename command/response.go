package command

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

func statusTableFor(ref Ref) StatusTable {
	switch ref {
	case RefOpenSecureSession, RefCloseSecureSession:
		return StatusTable{
			0x6988: {calypsoerr.InvalidCardSessionMac, "incorrect terminal session mac"},
			0x6985: {calypsoerr.ImproperState, "no session open, or session buffer overflow"},
		}
	case RefVerifyPIN:
		return StatusTable{
			0x6983: {calypsoerr.UnauthorizedKey, "pin blocked"},
			0x63C1: {calypsoerr.UnexpectedCommandStatus, "pin incorrect, 1 attempt remaining"},
			0x63C2: {calypsoerr.UnexpectedCommandStatus, "pin incorrect, 2 attempts remaining"},
		}
	case RefSVDebit, RefSVReload, RefSVUndebit:
		return StatusTable{
			0x6400: {calypsoerr.InvalidCardSvMac, "sv mac not verifiable"},
			0x6985: {calypsoerr.ImproperState, "sv command preconditions not met"},
		}
	default:
		return StatusTable{}
	}
}

// pinAttemptsForSW maps a VERIFY_PIN status word to the resulting
// pin_attempts_remaining value (Testable Property 5: 0x63C2/0x63C1/0x6983/
// 0x9000 -> 2/1/0/3). Called from Command.ParseResponse directly, since the
// failure SWs never reach applyResponse's success-only path.
func pinAttemptsForSW(sw uint16) (n int, ok bool) {
	switch sw {
	case 0x9000:
		return 3, true
	case 0x63C2:
		return 2, true
	case 0x63C1:
		return 1, true
	case 0x6983:
		return 0, true
	default:
		return 0, false
	}
}

// applyResponse mutates img per the successfully parsed response of c.
func applyResponse(c *Command, img *cardimage.CardImage) {
	switch c.Ctx.Ref {
	case RefOpenSecureSession:
		if len(c.Response.Data) >= 2 {
			img.KIF = c.Response.Data[0]
			img.KVC = c.Response.Data[1]
			if len(c.Response.Data) > 2 {
				img.SetCardChallenge(c.Response.Data[2:])
			}
		}
	case RefReadRecords:
		applyReadRecords(c, img)
	case RefReadBinary:
		img.WriteBinary(c.Ctx.SFI, c.Ctx.Offset, c.Response.Data)
	case RefIncrease:
		if len(c.Response.Data) >= 3 {
			img.SetCounter(c.Ctx.SFI, c.Ctx.CounterID, u24(c.Response.Data[:3]))
		}
	case RefDecrease:
		if len(c.Response.Data) >= 3 {
			img.SetCounter(c.Ctx.SFI, c.Ctx.CounterID, u24(c.Response.Data[:3]))
		}
	case RefIncreaseMultiple, RefDecreaseMultiple:
		for i := 0; i+4 <= len(c.Response.Data); i += 4 {
			id := int(c.Response.Data[i])
			val := u24(c.Response.Data[i+1 : i+4])
			img.SetCounter(c.Ctx.SFI, id, val)
		}
	case RefSVGet:
		if sv, err := ParseSVGetResponse(c.Response.Data); err == nil {
			img.SetSVData(sv.KVC, sv.Header, sv.ExtendedModeData, sv.Balance, sv.TNum)
		}
	case RefGetChallenge:
		img.SetCardChallenge(c.Response.Data)
	case RefInvalidate:
		img.DFInvalidated = true
	case RefRehabilitate:
		img.DFInvalidated = false
	}
}

func applyReadRecords(c *Command, img *cardimage.CardImage) {
	data := c.Response.Data
	if c.Ctx.ToRecord <= c.Ctx.FromRecord {
		img.WriteRecord(c.Ctx.SFI, c.Ctx.FromRecord, data)
		return
	}
	// Multi-record format: each entry is 1-byte record number + 1-byte
	// length + payload.
	n := c.Ctx.FromRecord
	for i := 0; i < len(data); {
		if i+2 > len(data) {
			break
		}
		recNum := int(data[i])
		recLen := int(data[i+1])
		i += 2
		if i+recLen > len(data) {
			break
		}
		img.WriteRecord(c.Ctx.SFI, recNum, data[i:i+recLen])
		i += recLen
		n++
	}
}
