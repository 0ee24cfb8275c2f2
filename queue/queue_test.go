package queue

import (
	"testing"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
)

func mustFinalize(t *testing.T, c *command.Command) *command.Command {
	t.Helper()
	if err := c.FinalizeRequest(); err != nil {
		t.Fatalf("FinalizeRequest() error = %v", err)
	}
	return c
}

func TestComputeCommandSessionBufferSize(t *testing.T) {
	if got := ComputeCommandSessionBufferSize(10, false); got != 1 {
		t.Errorf("non-byte-counter mode = %d, want 1", got)
	}
	if got := ComputeCommandSessionBufferSize(10, true); got != 11 {
		t.Errorf("byte-counter mode = %d, want 11 (10+6-5)", got)
	}
}

func TestEnqueueOverflowWithoutMultipleSession(t *testing.T) {
	b := New(1, false, false, false)
	open := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession}})
	if err := b.Enqueue(open, nil, nil, nil); err != nil {
		t.Fatalf("enqueue open: %v", err)
	}

	upd1 := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefUpdateRecord, SFI: 0x08, RecordNumber: 1, Data: []byte{1, 2, 3}}})
	if err := b.Enqueue(upd1, nil, nil, nil); err != nil {
		t.Fatalf("enqueue upd1: %v", err)
	}

	upd2 := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefUpdateRecord, SFI: 0x08, RecordNumber: 2, Data: []byte{1, 2, 3}}})
	err := b.Enqueue(upd2, nil, nil, nil)
	if !calypsoerr.Is(err, calypsoerr.SessionBufferOverflow) {
		t.Fatalf("expected SessionBufferOverflow, got %v", err)
	}
}

func TestEnqueueOverflowWithMultipleSessionSplits(t *testing.T) {
	b := New(1, false, true, false)
	open := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession, WriteAccessLevel: cardimage.AccessLoad}})
	_ = b.Enqueue(open, nil, nil, nil)

	upd1 := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefUpdateRecord, SFI: 0x08, RecordNumber: 1, Data: []byte{1, 2, 3}}})
	_ = b.Enqueue(upd1, nil, nil, nil)

	closeCalled, openCalled := false, false
	buildClose := func(ratified bool) *command.Command {
		closeCalled = true
		return mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefCloseSecureSession, Ratified: ratified}})
	}
	buildOpen := func(level cardimage.AccessLevel) *command.Command {
		openCalled = true
		return mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession, WriteAccessLevel: level}})
	}

	upd2 := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefUpdateRecord, SFI: 0x08, RecordNumber: 2, Data: []byte{1, 2, 3}}})
	if err := b.Enqueue(upd2, buildClose, buildOpen, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closeCalled || !openCalled {
		t.Errorf("expected sub-session split to call both close and open builders")
	}

	// open, upd1, synthetic close, synthetic open, upd2
	if len(b.Commands()) != 5 {
		t.Errorf("Commands() length = %d, want 5", len(b.Commands()))
	}
}

func TestApplyReadOnOpenOptimisation(t *testing.T) {
	b := New(10, false, false, false)
	read := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: 0x07, FromRecord: 1, ToRecord: 1}})
	open := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession}})
	_ = b.Enqueue(read, nil, nil, nil)
	_ = b.Enqueue(open, nil, nil, nil)

	img := cardimage.New([]byte{1}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, cardimage.ProductPrimeRev3)
	b.ApplyReadOnOpenOptimisation(img)

	if len(b.Commands()) != 1 {
		t.Fatalf("Commands() length = %d, want 1 after folding read into open", len(b.Commands()))
	}
	folded := b.Commands()[0]
	if folded.Ctx.SFI != 0x07 || folded.Ctx.RecordNumber != 1 {
		t.Errorf("open command not folded correctly: sfi=%02X record=%d", folded.Ctx.SFI, folded.Ctx.RecordNumber)
	}
}

func TestApplyReadOnOpenOptimisationDisabled(t *testing.T) {
	b := New(10, false, false, true)
	read := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: 0x07, FromRecord: 1, ToRecord: 1}})
	open := mustFinalize(t, &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession}})
	_ = b.Enqueue(read, nil, nil, nil)
	_ = b.Enqueue(open, nil, nil, nil)

	img := cardimage.New([]byte{1}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, cardimage.ProductPrimeRev3)
	b.ApplyReadOnOpenOptimisation(img)

	if len(b.Commands()) != 2 {
		t.Errorf("Commands() length = %d, want 2 when optimisation disabled", len(b.Commands()))
	}
}
