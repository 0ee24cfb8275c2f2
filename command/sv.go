package command

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/apdu"
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
)

// SVOperation distinguishes the two logs a stored-value card keeps.
type SVOperation int

const (
	SVOperationReload SVOperation = iota
	SVOperationDebit
)

func (o SVOperation) String() string {
	if o == SVOperationReload {
		return "reload"
	}
	return "debit"
}

// SVAction is the intent behind an SV_DEBIT/SV_UNDEBIT pair: DO performs
// the operation, UNDO reverses a previously accepted debit.
type SVAction int

const (
	SVActionDo SVAction = iota
	SVActionUndo
)

const svGetInsByte = 0x7C

func buildSVGet(ctx Context) apdu.Request {
	p1 := byte(0x00)
	if ctx.SVOp == SVOperationDebit {
		p1 = 0x01
	}
	return apdu.Build(claCalypso, svGetInsByte, p1, 0x00, nil, le(0))
}

// buildSVReload/Debit/Undebit assume ctx's SV security-data fields
// (filled by the crypto provider via IsCryptoRequiredBeforeSend) are
// already spliced into ctx.Data by SpliceSVSecurityData below.
func buildSVReload(ctx Context) apdu.Request {
	return apdu.Build(claCalypso, 0xB8, 0x00, 0x00, ctx.Data, le(0))
}

func buildSVDebit(ctx Context) apdu.Request {
	p1 := byte(0x00)
	return apdu.Build(claCalypso, 0xBA, p1, 0x00, ctx.Data, le(0))
}

func buildSVUndebit(ctx Context) apdu.Request {
	return apdu.Build(claCalypso, 0xBC, 0x00, 0x00, ctx.Data, le(0))
}

// SVSecurityFields is the SAM-computed data spliced into SV_RELOAD/
// DEBIT/UNDEBIT requests: 4-byte SAM id, 3-byte challenge, 3-byte
// transaction number, and a 5- or 10-byte MAC.
type SVSecurityFields struct {
	SAMID, Challenge, TNum, MAC []byte
}

// SpliceSVSecurityData assembles ctx.Data for an SV modifying command
// from its amount/date/time fields plus the SAM-computed security
// fields, per spec §4.3 step 3.
func SpliceSVSecurityData(ctx *Context, sec SVSecurityFields) {
	data := make([]byte, 0, 3+2+2+len(sec.SAMID)+len(sec.Challenge)+len(sec.TNum)+len(sec.MAC))
	amount := ctx.SVAmount
	if ctx.Ref == RefSVDebit && ctx.SVAction == SVActionDo {
		amount = -amount
	}
	data = append(data, be24(amount)...)
	data = append(data, ctx.SVDate...)
	data = append(data, ctx.SVTime...)
	data = append(data, sec.SAMID...)
	data = append(data, sec.Challenge...)
	data = append(data, sec.TNum...)
	data = append(data, sec.MAC...)
	ctx.Data = data
}

// SVGetResponse is the parsed body of an SV_GET response.
type SVGetResponse struct {
	Challenge        []byte
	KVC              byte
	Balance          int
	LoadLog          []byte
	DebitLog         []byte
	TNum             int
	Header           []byte
	ExtendedModeData []byte
}

// ParseSVGetResponse decodes the SV_GET body with one fixed layout for any
// length of 15 bytes or more: challenge (4), KVC (1), signed 24-bit
// balance (3), transaction number (3), then the remaining bytes split in
// half into the load log and the debit log. Header holds the first 5
// bytes and ExtendedModeData the whole body; the layout does not vary
// with the response length.
func ParseSVGetResponse(data []byte) (SVGetResponse, error) {
	if len(data) < 15 {
		return SVGetResponse{}, calypsoerr.Newf(calypsoerr.InconsistentData, "sv get response too short: %d bytes", len(data))
	}
	var out SVGetResponse
	out.Header = append([]byte(nil), data[:5]...)
	out.Challenge = append([]byte(nil), data[0:4]...)
	out.KVC = data[4]
	out.Balance = int(int32(data[5])<<16 | int32(data[6])<<8 | int32(data[7]))
	if data[5]&0x80 != 0 {
		out.Balance = out.Balance | ^0xFFFFFF
	}
	out.TNum = u24(data[8:11])
	remaining := data[11:]
	half := len(remaining) / 2
	out.LoadLog = append([]byte(nil), remaining[:half]...)
	out.DebitLog = append([]byte(nil), remaining[half:]...)
	out.ExtendedModeData = append([]byte(nil), data...)
	return out, nil
}

// CheckSvModifyingCommandPreconditions implements spec §4.3 step 2: the
// command must follow a matching SV_GET, and at most one SV modifying
// command may be enqueued per secure session.
func CheckSvModifyingCommandPreconditions(
	ref Ref,
	lastSVGetOp SVOperation,
	lastSVGetDone bool,
	svOperationAlreadyInSession bool,
	inSession bool,
) error {
	if !lastSVGetDone {
		return calypsoerr.New(calypsoerr.ImproperState, "sv modifying command must follow a matching SV_GET")
	}
	wantOp := SVOperationReload
	if ref == RefSVDebit || ref == RefSVUndebit {
		wantOp = SVOperationDebit
	}
	if lastSVGetOp != wantOp {
		return calypsoerr.Newf(calypsoerr.ImproperState, "sv modifying command %v does not match preceding SV_GET operation %v", ref, lastSVGetOp)
	}
	if inSession && svOperationAlreadyInSession {
		return calypsoerr.New(calypsoerr.ImproperState, "at most one sv modifying command is allowed per secure session")
	}
	return nil
}

// CheckSvDebitBalance enforces the negative-balance rule for SV_DEBIT
// with SVActionDo when negative balances are not authorized.
func CheckSvDebitBalance(balance, amount int, action SVAction, negativeBalanceAuthorized bool) error {
	if action != SVActionDo {
		return nil
	}
	if !negativeBalanceAuthorized && balance-amount < 0 {
		return calypsoerr.Newf(calypsoerr.IllegalArgument, "sv debit of %d would bring balance %d below zero", amount, balance)
	}
	return nil
}
