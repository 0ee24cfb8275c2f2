package command

import (
	"maps"
	"slices"

	"github.com/eclipse-keyple/keyple-card-calypso-go/apdu"
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
)

const claCalypso = 0x00

func le(v int) *int { return &v }

// buildRequest constructs the wire bytes for ctx. It is pure: any field
// the crypto provider must supply (terminal MAC, SV security data,
// ciphered PIN) is expected to already be populated in ctx by the time
// this runs — IsCryptoRequiredBeforeSend tells the caller when that step
// is needed first.
func buildRequest(ctx Context) (apdu.Request, error) {
	switch ctx.Ref {
	case RefOpenSecureSession:
		return buildOpenSecureSession(ctx), nil
	case RefCloseSecureSession:
		return buildCloseSecureSession(ctx), nil
	case RefManageSecureSession:
		return buildManageSecureSession(ctx), nil
	case RefSelectFile:
		return buildSelectFile(ctx), nil
	case RefGetData:
		return buildGetData(ctx), nil
	case RefGetChallenge:
		return apdu.Build(claCalypso, 0x84, 0x00, 0x00, nil, le(8)), nil
	case RefReadRecords:
		return buildReadRecords(ctx), nil
	case RefReadRecordMultiple:
		return buildReadRecordMultiple(ctx), nil
	case RefReadBinary:
		return buildReadBinary(ctx), nil
	case RefSearchRecordMultiple:
		return buildSearchRecordMultiple(ctx), nil
	case RefUpdateRecord:
		return apdu.Build(claCalypso, 0xDC, byte(ctx.RecordNumber), (ctx.SFI<<3)|0x04, ctx.Data, nil), nil
	case RefWriteRecord:
		return apdu.Build(claCalypso, 0xD2, byte(ctx.RecordNumber), (ctx.SFI<<3)|0x04, ctx.Data, nil), nil
	case RefAppendRecord:
		return apdu.Build(claCalypso, 0xE2, 0x00, (ctx.SFI<<3)|0x04, ctx.Data, nil), nil
	case RefUpdateBinary:
		return buildUpdateBinary(ctx), nil
	case RefWriteBinary:
		return buildWriteBinary(ctx), nil
	case RefIncrease:
		return apdu.Build(claCalypso, 0x32, byte(ctx.CounterID), (ctx.SFI<<3), be24(ctx.SVAmount), nil), nil
	case RefDecrease:
		return apdu.Build(claCalypso, 0x30, byte(ctx.CounterID), (ctx.SFI<<3), be24(ctx.SVAmount), nil), nil
	case RefIncreaseMultiple:
		return buildCounterMultiple(0x3A, ctx), nil
	case RefDecreaseMultiple:
		return buildCounterMultiple(0x38, ctx), nil
	case RefVerifyPIN:
		return buildVerifyPIN(ctx), nil
	case RefChangePIN:
		return buildChangePIN(ctx), nil
	case RefChangeKey:
		return buildChangeKey(ctx), nil
	case RefInvalidate:
		return apdu.Build(claCalypso, 0x04, 0x00, 0x00, nil, nil), nil
	case RefRehabilitate:
		return apdu.Build(claCalypso, 0x44, 0x00, 0x00, nil, nil), nil
	case RefSVGet:
		return buildSVGet(ctx), nil
	case RefSVReload:
		return buildSVReload(ctx), nil
	case RefSVDebit:
		return buildSVDebit(ctx), nil
	case RefSVUndebit:
		return buildSVUndebit(ctx), nil
	case RefRatification:
		return apdu.Build(claCalypso, 0xB2, 0x00, 0x00, nil, nil), nil
	default:
		return apdu.Request{}, calypsoerr.Newf(calypsoerr.IllegalArgument, "unknown command ref %v", ctx.Ref)
	}
}

func buildOpenSecureSession(ctx Context) apdu.Request {
	p1 := byte(ctx.WriteAccessLevel) + 1
	p2 := (ctx.SFI << 3)
	data := []byte{byte(ctx.RecordNumber)}
	leVal := 0
	if ctx.Extended {
		p1 |= 0x80
	}
	return apdu.Build(claCalypso, 0x8A, p1, p2, data, &leVal)
}

func buildCloseSecureSession(ctx Context) apdu.Request {
	p1 := byte(0x00)
	if ctx.Abort {
		return apdu.Build(claCalypso, 0x8E, 0x00, 0x00, nil, le(0))
	}
	if !ctx.Ratified {
		p1 = 0x01
	}
	data := append([]byte(nil), ctx.TerminalSessionMAC...)
	return apdu.Build(claCalypso, 0x8E, p1, 0x00, data, le(0))
}

func buildManageSecureSession(ctx Context) apdu.Request {
	p2 := byte(0x00)
	switch {
	case ctx.MutualAuth && ctx.ActivateEnc:
		p2 = 0x03
	case ctx.ActivateEnc:
		p2 = 0x02
	case ctx.MutualAuth:
		p2 = 0x01
	}
	if ctx.MutualAuth {
		return apdu.Build(claCalypso, 0x5D, 0x00, p2, ctx.TerminalMAC, le(8))
	}
	return apdu.Build(claCalypso, 0x5D, 0x00, p2, nil, nil)
}

func buildSelectFile(ctx Context) apdu.Request {
	if len(ctx.SelectLID) > 0 {
		return apdu.Build(claCalypso, 0xA4, ctx.SelectControl, 0x00, ctx.SelectLID, le(0))
	}
	return apdu.Build(claCalypso, 0xA4, ctx.SelectControl, 0x00, nil, le(0))
}

func buildGetData(ctx Context) apdu.Request {
	p1 := byte(ctx.GetDataTag >> 8)
	p2 := byte(ctx.GetDataTag)
	return apdu.Build(claCalypso, 0xCA, p1, p2, nil, le(0))
}

func buildReadRecords(ctx Context) apdu.Request {
	mode := byte(0x04)
	n := 1
	if ctx.ToRecord > ctx.FromRecord {
		mode = 0x05
		n = ctx.ToRecord - ctx.FromRecord + 1
	}
	p2 := (ctx.SFI << 3) | mode
	leVal := 0
	if n == 1 {
		leVal = 0
	} else {
		leVal = n * (ctx.RecordSize + 2)
	}
	return apdu.Build(claCalypso, 0xB2, byte(ctx.FromRecord), p2, nil, &leVal)
}

func buildReadRecordMultiple(ctx Context) apdu.Request {
	p2 := (ctx.SFI << 3) | 0x06
	data := []byte{byte(ctx.Offset), byte(ctx.NbBytes)}
	return apdu.Build(claCalypso, 0xB3, byte(ctx.RecordNumber), p2, data, le(ctx.NbBytes))
}

func buildReadBinary(ctx Context) apdu.Request {
	if ctx.SFI != 0 {
		p1 := byte(0x80) | ctx.SFI
		return apdu.Build(claCalypso, 0xB0, p1, byte(ctx.Offset), nil, le(ctx.NbBytes))
	}
	p1 := byte(ctx.Offset >> 8)
	p2 := byte(ctx.Offset)
	return apdu.Build(claCalypso, 0xB0, p1, p2, nil, le(ctx.NbBytes))
}

func buildSearchRecordMultiple(ctx Context) apdu.Request {
	p2 := (ctx.SFI << 3) | 0x04
	return apdu.Build(claCalypso, 0xA2, byte(ctx.FromRecord), p2, ctx.SearchData, le(0))
}

func buildUpdateBinary(ctx Context) apdu.Request {
	p1 := byte(ctx.Offset >> 8)
	p2 := byte(ctx.Offset)
	if ctx.SFI != 0 {
		p1 |= 0x80 | (ctx.SFI << 0)
	}
	return apdu.Build(claCalypso, 0xD6, p1, p2, ctx.Data, nil)
}

func buildWriteBinary(ctx Context) apdu.Request {
	p1 := byte(ctx.Offset >> 8)
	p2 := byte(ctx.Offset)
	if ctx.SFI != 0 {
		p1 |= 0x80 | (ctx.SFI << 0)
	}
	return apdu.Build(claCalypso, 0xD0, p1, p2, ctx.Data, nil)
}

func buildCounterMultiple(ins byte, ctx Context) apdu.Request {
	data := make([]byte, 0, len(ctx.Deltas)*4)
	for _, id := range slices.Sorted(maps.Keys(ctx.Deltas)) {
		delta := ctx.Deltas[id]
		data = append(data, byte(id))
		data = append(data, be24(delta)...)
	}
	return apdu.Build(claCalypso, ins, 0x00, ctx.SFI<<3, data, nil)
}

func buildVerifyPIN(ctx Context) apdu.Request {
	p2 := byte(0x00)
	if len(ctx.PINData) == 0 {
		return apdu.Build(claCalypso, 0x20, 0x00, p2, nil, nil)
	}
	return apdu.Build(claCalypso, 0x20, 0x00, p2, ctx.PINData, nil)
}

func buildChangePIN(ctx Context) apdu.Request {
	return apdu.Build(claCalypso, 0xD8, 0x00, 0xFF, ctx.NewPINData, nil)
}

func buildChangeKey(ctx Context) apdu.Request {
	data := append([]byte{ctx.ChangeKeyIndex}, ctx.Data...)
	return apdu.Build(claCalypso, 0xD8, 0x00, 0x00, data, nil)
}

func requireBytes(name string, b []byte, n int) error {
	if len(b) != n {
		return calypsoerr.Newf(calypsoerr.IllegalArgument, "%s must be %d bytes, got %d", name, n, len(b))
	}
	return nil
}
