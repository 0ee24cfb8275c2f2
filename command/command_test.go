package command

import (
	"bytes"
	"testing"

	"github.com/eclipse-keyple/keyple-card-calypso-go/apdu"
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

func TestFinalizeRequestIdempotent(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefGetChallenge}}
	if err := c.FinalizeRequest(); err != nil {
		t.Fatalf("FinalizeRequest() error = %v", err)
	}
	first := append([]byte(nil), c.Request.Bytes...)
	if err := c.FinalizeRequest(); err != nil {
		t.Fatalf("FinalizeRequest() second call error = %v", err)
	}
	if !bytes.Equal(first, c.Request.Bytes) {
		t.Errorf("FinalizeRequest() not idempotent: %X vs %X", first, c.Request.Bytes)
	}
	if !c.IsFinalized() {
		t.Errorf("IsFinalized() = false after FinalizeRequest()")
	}
}

func TestReadRecordsSingle(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefReadRecords, SFI: 0x07, FromRecord: 1, ToRecord: 1}}
	if err := c.FinalizeRequest(); err != nil {
		t.Fatalf("FinalizeRequest() error = %v", err)
	}
	if c.Request.Case != apdu.Case2 {
		t.Errorf("case = %v, want case2 for a single-record read", c.Request.Case)
	}
	wantP2 := byte(0x07<<3) | 0x04
	if c.Request.Bytes[3] != wantP2 {
		t.Errorf("P2 = %02X, want %02X", c.Request.Bytes[3], wantP2)
	}
}

func TestIsCryptoRequiredBeforeSend(t *testing.T) {
	cases := []struct {
		ref  Ref
		want bool
	}{
		{RefCloseSecureSession, true},
		{RefSVReload, true},
		{RefVerifyPIN, true},
		{RefReadRecords, false},
		{RefSelectFile, false},
	}
	for _, tc := range cases {
		c := &Command{Ctx: Context{Ref: tc.ref}}
		if got := c.IsCryptoRequiredBeforeSend(); got != tc.want {
			t.Errorf("IsCryptoRequiredBeforeSend(%v) = %v, want %v", tc.ref, got, tc.want)
		}
	}
}

func TestSynchronizeCryptoBeforeCardProcessing(t *testing.T) {
	open := &Command{Ctx: Context{Ref: RefOpenSecureSession}}
	if !open.SynchronizeCryptoBeforeCardProcessing() {
		t.Errorf("OPEN_SECURE_SESSION should synchronize before send")
	}
	read := &Command{Ctx: Context{Ref: RefReadRecords}}
	if read.SynchronizeCryptoBeforeCardProcessing() {
		t.Errorf("READ_RECORDS should not require synchronize-before-send")
	}
}

func TestParseResponseSuccess(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefReadRecords, SFI: 0x07, FromRecord: 1, ToRecord: 1}}
	_ = c.FinalizeRequest()
	img := cardimage.New([]byte{1}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, cardimage.ProductPrimeRev3)

	raw := append(bytes.Repeat([]byte{0xAA}, 4), 0x90, 0x00)
	if err := c.ParseResponse(raw, 0, img); err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	rec, ok := img.GetRecord(0x07, 1)
	if !ok || !bytes.Equal(rec, bytes.Repeat([]byte{0xAA}, 4)) {
		t.Errorf("GetRecord() = %X, %v", rec, ok)
	}
}

func TestParseResponseUnexpectedStatus(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefSelectFile}}
	_ = c.FinalizeRequest()
	raw := []byte{0x6A, 0x82}
	err := c.ParseResponse(raw, 0, nil)
	if err == nil {
		t.Fatalf("expected error for 6A82")
	}
	if !calypsoerr.Is(err, calypsoerr.SelectFile) {
		t.Errorf("error kind = %v, want SelectFile", err)
	}
}

func TestParseResponseLengthMismatch(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefGetChallenge}}
	_ = c.FinalizeRequest()
	raw := append([]byte{1, 2, 3}, 0x90, 0x00) // only 3 bytes, Le was 8
	err := c.ParseResponse(raw, 8, nil)
	if err == nil {
		t.Fatalf("expected length-mismatch error")
	}
	if !calypsoerr.Is(err, calypsoerr.InconsistentData) {
		t.Errorf("error kind = %v, want InconsistentData", err)
	}
}

func TestCloseSecureSessionAbortMode(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefCloseSecureSession, Abort: true}}
	if err := c.FinalizeRequest(); err != nil {
		t.Fatalf("FinalizeRequest() error = %v", err)
	}
	if len(c.Request.Bytes) != 5 {
		t.Errorf("abort-mode close should carry no data, got %X", c.Request.Bytes)
	}
}

func TestManageSecureSessionEncoding(t *testing.T) {
	c := &Command{Ctx: Context{Ref: RefManageSecureSession, MutualAuth: true, ActivateEnc: true, TerminalMAC: bytes.Repeat([]byte{0xCD}, 8)}}
	if err := c.FinalizeRequest(); err != nil {
		t.Fatalf("FinalizeRequest() error = %v", err)
	}
	if c.Request.Bytes[3] != 0x03 {
		t.Errorf("P2 = %02X, want 03 for mutual-auth + activate-encryption", c.Request.Bytes[3])
	}
}
