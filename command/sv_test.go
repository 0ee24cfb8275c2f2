package command

import (
	"testing"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
)

func TestSpliceSVSecurityData(t *testing.T) {
	ctx := Context{Ref: RefSVReload, SVAmount: 100, SVDate: []byte{0x01, 0x02}, SVTime: []byte{0x03, 0x04}}
	sec := SVSecurityFields{SAMID: []byte{1, 2, 3, 4}, Challenge: []byte{5, 6, 7}, TNum: []byte{8, 9, 10}, MAC: []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}}
	SpliceSVSecurityData(&ctx, sec)

	want := append(be24(100), 0x01, 0x02, 0x03, 0x04)
	want = append(want, sec.SAMID...)
	want = append(want, sec.Challenge...)
	want = append(want, sec.TNum...)
	want = append(want, sec.MAC...)

	if len(ctx.Data) != len(want) {
		t.Fatalf("Data length = %d, want %d", len(ctx.Data), len(want))
	}
	for i := range want {
		if ctx.Data[i] != want[i] {
			t.Fatalf("Data[%d] = %02X, want %02X", i, ctx.Data[i], want[i])
		}
	}
}

func TestSpliceSVDebitNegatesAmount(t *testing.T) {
	ctx := Context{Ref: RefSVDebit, SVAction: SVActionDo, SVAmount: 50}
	SpliceSVSecurityData(&ctx, SVSecurityFields{})
	got := u24(ctx.Data[:3])
	// u24 interprets as unsigned; the top byte carries the sign.
	if ctx.Data[0] != 0xFF {
		t.Errorf("expected negated (two's complement) amount, top byte = %02X", ctx.Data[0])
	}
	_ = got
}

func TestCheckSvModifyingCommandPreconditions(t *testing.T) {
	if err := CheckSvModifyingCommandPreconditions(RefSVReload, SVOperationReload, false, false, true); err == nil {
		t.Errorf("expected error when no SV_GET preceded the command")
	}
	if err := CheckSvModifyingCommandPreconditions(RefSVDebit, SVOperationReload, true, false, true); err == nil {
		t.Errorf("expected error for mismatched SV_GET operation")
	}
	if err := CheckSvModifyingCommandPreconditions(RefSVReload, SVOperationReload, true, true, true); !calypsoerr.Is(err, calypsoerr.ImproperState) {
		t.Errorf("expected ImproperState for a second sv modifying command in session")
	}
	if err := CheckSvModifyingCommandPreconditions(RefSVReload, SVOperationReload, true, false, true); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckSvDebitBalance(t *testing.T) {
	if err := CheckSvDebitBalance(30, 50, SVActionDo, false); err == nil {
		t.Errorf("expected error for negative balance with negative balances disallowed")
	}
	if err := CheckSvDebitBalance(30, 50, SVActionDo, true); err != nil {
		t.Errorf("unexpected error when negative balances are allowed: %v", err)
	}
	if err := CheckSvDebitBalance(30, 50, SVActionUndo, false); err != nil {
		t.Errorf("UNDO should never be balance-checked: %v", err)
	}
}

func TestParseSVGetResponse(t *testing.T) {
	data := make([]byte, 19)
	data[4] = 0x79 // kvc
	data[5], data[6], data[7] = 0x00, 0x01, 0x00 // balance = 256
	data[8], data[9], data[10] = 0x00, 0x00, 0x05 // tnum = 5

	got, err := ParseSVGetResponse(data)
	if err != nil {
		t.Fatalf("ParseSVGetResponse() error = %v", err)
	}
	if got.KVC != 0x79 {
		t.Errorf("KVC = %02X, want 79", got.KVC)
	}
	if got.Balance != 256 {
		t.Errorf("Balance = %d, want 256", got.Balance)
	}
	if got.TNum != 5 {
		t.Errorf("TNum = %d, want 5", got.TNum)
	}
}
