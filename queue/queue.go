// Package queue implements the command accumulation and session-buffer
// batching rules (C6): computing per-command buffer cost, splitting a
// session into sub-sessions on overflow, and the read-on-open
// optimisation. No teacher equivalent exists for session buffering; its
// ordering-preservation style mirrors the teacher's own sequential
// chunking loops in card/reader.go (chunk, send, inspect SW, continue).
package queue

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
)

// Batcher accumulates commands for one processCommands call and applies
// the session-buffer overflow and read-on-open rules as they are
// enqueued.
type Batcher struct {
	commands []*command.Command

	modificationsCounter int
	writeAccessLevel      cardimage.AccessLevel
	byteCounterMode       bool
	multipleSessionEnabled bool
	readOnOpenDisabled    bool
	encryptionActive      bool
	inSession             bool

	// sessionOpenIndex is the index of the (single) OPEN_SECURE_SESSION
	// command in the current sub-session, or -1 if none queued yet.
	sessionOpenIndex int
}

// New creates a Batcher seeded from the card's current modifications
// counter (spec §4.6: "initialized to card.modifications_counter on OPEN").
func New(initialCounter int, byteCounterMode, multipleSessionEnabled, readOnOpenDisabled bool) *Batcher {
	return &Batcher{
		modificationsCounter:  initialCounter,
		byteCounterMode:       byteCounterMode,
		multipleSessionEnabled: multipleSessionEnabled,
		readOnOpenDisabled:    readOnOpenDisabled,
		sessionOpenIndex:      -1,
	}
}

// Commands returns the accumulated flat command list in transmission order.
func (b *Batcher) Commands() []*command.Command { return b.commands }

// ComputeCommandSessionBufferSize implements spec §4.6's buffer-cost rule.
func ComputeCommandSessionBufferSize(apduLength int, byteCounterMode bool) int {
	if byteCounterMode {
		return apduLength + 6 - 5
	}
	return 1
}

// Enqueue appends cmd to the batch, applying the overflow-split rule when
// cmd is a modifying command and the session is open. buildCloseFn and
// buildOpenFn construct the synthetic CLOSE/re-OPEN commands needed for a
// sub-session split; buildResumeEncryptionFn builds the MANAGE_SECURE_SESSION
// needed to resume encryption in the new sub-session, or nil if encryption
// was not active.
func (b *Batcher) Enqueue(
	cmd *command.Command,
	buildCloseFn func(ratified bool) *command.Command,
	buildOpenFn func(level cardimage.AccessLevel) *command.Command,
	buildResumeEncryptionFn func() *command.Command,
) error {
	if cmd.Ctx.Ref == command.RefOpenSecureSession {
		b.inSession = true
		b.writeAccessLevel = cmd.Ctx.WriteAccessLevel
		b.sessionOpenIndex = len(b.commands)
	}

	if b.inSession && cmd.Ctx.Ref.IsModifying() {
		cost := ComputeCommandSessionBufferSize(len(cmd.Request.Bytes), b.byteCounterMode)
		b.modificationsCounter -= cost
		if b.modificationsCounter < 0 {
			if !b.multipleSessionEnabled {
				return calypsoerr.New(calypsoerr.SessionBufferOverflow, "modifying command would overflow the session buffer")
			}
			if buildCloseFn == nil || buildOpenFn == nil {
				return calypsoerr.New(calypsoerr.ImproperState, "sub-session split requested but no close/open builder supplied")
			}
			b.commands = append(b.commands, buildCloseFn(true))
			b.commands = append(b.commands, buildOpenFn(b.writeAccessLevel))
			if b.encryptionActive && buildResumeEncryptionFn != nil {
				b.commands = append(b.commands, buildResumeEncryptionFn())
			}
			b.modificationsCounter = cost
		}
	}

	if cmd.Ctx.Ref == command.RefManageSecureSession {
		b.encryptionActive = cmd.Ctx.ActivateEnc || (b.encryptionActive && !isDeactivate(cmd))
	}

	if cmd.Ctx.Ref == command.RefCloseSecureSession {
		b.inSession = false
		b.encryptionActive = false
	}

	b.commands = append(b.commands, cmd)
	return nil
}

func isDeactivate(cmd *command.Command) bool {
	return cmd.Ctx.Ref == command.RefManageSecureSession && !cmd.Ctx.ActivateEnc && !cmd.Ctx.MutualAuth
}

// ApplyReadOnOpenOptimisation implements spec §4.6: if the first queued
// command is a single-record READ_RECORDS immediately preceding OPEN, fold
// it into OPEN's own SFI/record fields and drop the separate read. It is a
// no-op when disabled, when fewer than two commands are queued, or when
// pre-open mode is in effect (card.PreOpenWriteAccessLevel != nil).
func (b *Batcher) ApplyReadOnOpenOptimisation(img *cardimage.CardImage) {
	if b.readOnOpenDisabled || img.PreOpenWriteAccessLevel != nil {
		return
	}
	if len(b.commands) < 2 {
		return
	}
	read := b.commands[0]
	open := b.commands[1]
	if read.Ctx.Ref != command.RefReadRecords || open.Ctx.Ref != command.RefOpenSecureSession {
		return
	}
	if read.Ctx.FromRecord != read.Ctx.ToRecord {
		return
	}
	open.Ctx.SFI = read.Ctx.SFI
	open.Ctx.RecordNumber = read.Ctx.FromRecord
	b.commands = b.commands[1:]
}
