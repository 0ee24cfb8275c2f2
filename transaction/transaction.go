// Package transaction implements the TransactionManager façade (C8): the
// public prepareXxx/processCommands surface, payload-splitting rules,
// and fail-stop error handling. Grounded on the teacher's card.Reader
// method-per-command surface (ReadRecord, UpdateBinary, VerifyPIN, ...),
// lifted one level to "enqueue, don't send immediately," with
// processCommands as the point where the queued commands actually hit
// the transport.
package transaction

import (
	"log/slog"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
	"github.com/eclipse-keyple/keyple-card-calypso-go/queue"
	"github.com/eclipse-keyple/keyple-card-calypso-go/session"
	"github.com/eclipse-keyple/keyple-card-calypso-go/settings"
)

// ChannelControl decides whether the physical channel stays open after
// processCommands for a follow-up transaction.
type ChannelControl int

const (
	KeepOpen ChannelControl = iota
	CloseAfter
)

// Manager is the public transaction façade. Not safe for concurrent use
// (spec §5): every operation runs on the caller's goroutine.
type Manager struct {
	Image    *cardimage.CardImage
	Settings *settings.Settings
	Crypto   crypto.SymmetricProvider
	Session  *session.Engine
	Log      *slog.Logger

	batcher *queue.Batcher
	backup  *cardimage.Snapshot

	lastSVGetOp   command.SVOperation
	lastSVGetDone bool
	pendingErr    error
}

// New builds a Manager over an already-selected card image.
func New(img *cardimage.CardImage, st *settings.Settings, cp crypto.SymmetricProvider, eng *session.Engine, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	eng.Settings = st
	return &Manager{
		Image:    img,
		Settings: st,
		Crypto:   cp,
		Session:  eng,
		Log:      log,
		batcher: queue.New(img.InitialModificationsCounter, img.ModificationsCounterInBytes,
			st.MultipleSessionEnabled, st.ReadOnSessionOpeningDisabled),
	}
}

// failStop implements spec §4.8's "on any prepare-time error, silently
// cancel the session, discard queued commands, rethrow" rule.
func (m *Manager) failStop(err error) error {
	if err == nil {
		return nil
	}
	if m.Session != nil && m.Session.State() == session.StateOpen && m.backup != nil {
		m.Session.ProcessCancel(m.Image, m.backup)
	}
	m.batcher = queue.New(m.Image.InitialModificationsCounter, m.Image.ModificationsCounterInBytes,
		m.Settings.MultipleSessionEnabled, m.Settings.ReadOnSessionOpeningDisabled)
	return err
}

func (m *Manager) enqueue(c *command.Command) error {
	if err := c.FinalizeRequest(); err != nil {
		return m.failStop(err)
	}
	if err := m.batcher.Enqueue(c, m.buildClose, m.buildOpen, m.buildResumeEncryption); err != nil {
		return m.failStop(err)
	}
	return nil
}

func (m *Manager) buildClose(ratified bool) *command.Command {
	c := &command.Command{Ctx: command.Context{Ref: command.RefCloseSecureSession, Ratified: ratified}}
	_ = c.FinalizeRequest()
	return c
}

func (m *Manager) buildOpen(level cardimage.AccessLevel) *command.Command {
	kvc, _ := m.Settings.ComputeKVC(level, nil)
	kif, _ := m.Settings.ComputeKIF(level, 0xFF, &kvc)
	c := &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession, WriteAccessLevel: level, KIF: kif, KVC: kvc, Extended: m.Image.ExtendedModeSupported}}
	_ = c.FinalizeRequest()
	return c
}

func (m *Manager) buildResumeEncryption() *command.Command {
	c := &command.Command{Ctx: command.Context{Ref: command.RefManageSecureSession, ActivateEnc: true}}
	_ = c.FinalizeRequest()
	return c
}

// ---- Lifecycle ----

// PrepareOpenSecureSession queues an OPEN_SECURE_SESSION for level.
func (m *Manager) PrepareOpenSecureSession(level cardimage.AccessLevel) (*Manager, error) {
	kvc, kvcOK := m.Settings.ComputeKVC(level, nil)
	if !kvcOK {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "no default kvc configured for access level %v", level))
	}
	kif, kifOK := m.Settings.ComputeKIF(level, 0xFF, &kvc)
	if !kifOK {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "no kif resolvable for access level %v / kvc %02X", level, kvc))
	}
	if !m.Settings.IsSessionKeyAuthorized(kif, kvc) {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.UnauthorizedKey, "session key %02X/%02X is not authorized", kif, kvc))
	}
	c := &command.Command{Ctx: command.Context{Ref: command.RefOpenSecureSession, WriteAccessLevel: level, KIF: kif, KVC: kvc, Extended: m.Image.ExtendedModeSupported}}
	if err := m.enqueue(c); err != nil {
		return m, err
	}
	m.backup = m.Image.Backup()
	return m, nil
}

// PrepareCloseSecureSession queues a normal CLOSE_SECURE_SESSION.
func (m *Manager) PrepareCloseSecureSession() (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefCloseSecureSession, Ratified: !m.Settings.RatificationMechanismEnabled}}
	return m, m.enqueue(c)
}

// PrepareCancelSecureSession discards queued commands and cancels any
// open session immediately.
func (m *Manager) PrepareCancelSecureSession() (*Manager, error) {
	if m.Session.State() == session.StateOpen && m.backup != nil {
		m.Session.ProcessCancel(m.Image, m.backup)
	}
	m.batcher = queue.New(m.Image.InitialModificationsCounter, m.Image.ModificationsCounterInBytes,
		m.Settings.MultipleSessionEnabled, m.Settings.ReadOnSessionOpeningDisabled)
	return m, nil
}

// ProcessCommands finalizes crypto-dependent commands, applies the
// read-on-open optimisation, runs the batch through the session engine,
// and clears the queue. closePhysicalChannel is not acted on here; the
// caller's transport layer owns the channel (transport.CardRequest's
// CloseChannelAfter).
func (m *Manager) ProcessCommands(closePhysicalChannel ChannelControl) error {
	m.batcher.ApplyReadOnOpenOptimisation(m.Image)
	cmds := m.batcher.Commands()

	for _, c := range cmds {
		if c.Ctx.Ref == command.RefSVReload || c.Ctx.Ref == command.RefSVDebit || c.Ctx.Ref == command.RefSVUndebit {
			if err := m.finalizeSVSecurityData(c); err != nil {
				return m.failStop(err)
			}
		}
	}

	err := m.Session.ProcessRound(cmds, m.Image)
	m.batcher = queue.New(m.Image.InitialModificationsCounter, m.Image.ModificationsCounterInBytes,
		m.Settings.MultipleSessionEnabled, m.Settings.ReadOnSessionOpeningDisabled)
	if err != nil {
		return m.failStop(err)
	}
	return nil
}

func (m *Manager) finalizeSVSecurityData(c *command.Command) error {
	extended := m.Image.ExtendedModeSupported
	io := &crypto.SVSecurityData{ExtendedMode: extended}
	if err := m.Crypto.ComputeSVCommandSecurityData(io); err != nil {
		return calypsoerr.Wrap(calypsoerr.CryptoErr, "compute sv command security data", err)
	}
	command.SpliceSVSecurityData(&c.Ctx, command.SVSecurityFields{
		SAMID: io.SAMID, Challenge: io.Challenge, TNum: io.TNum, MAC: io.MAC,
	})
	return c.FinalizeRequest()
}

// InitSamContextForNextTransaction idempotently pre-diversifies the SAM
// ahead of the next transaction.
func (m *Manager) InitSamContextForNextTransaction() error {
	return m.Crypto.PreInitTerminalSecureSessionContext()
}
