package transaction

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
	"github.com/eclipse-keyple/keyple-card-calypso-go/session"
)

// PrepareSvGet queues the SV_GET(s) needed before a reload/debit. If
// both logs are required and the card is not in extended mode, two
// SV_GET commands are enqueued — the other operation first, then the
// requested one (rule CL-SV-GETNUMBER.1).
func (m *Manager) PrepareSvGet(op command.SVOperation, needBothLogs bool) (*Manager, error) {
	if !m.Image.SVFeature {
		return m, m.failStop(calypsoerr.New(calypsoerr.UnsupportedOperation, "card has no stored-value feature"))
	}
	if needBothLogs && !m.Image.ExtendedModeSupported {
		other := command.SVOperationDebit
		if op == command.SVOperationDebit {
			other = command.SVOperationReload
		}
		if err := m.enqueue(&command.Command{Ctx: command.Context{Ref: command.RefSVGet, SVOp: other}}); err != nil {
			return m, err
		}
	}
	if err := m.enqueue(&command.Command{Ctx: command.Context{Ref: command.RefSVGet, SVOp: op}}); err != nil {
		return m, err
	}
	m.lastSVGetOp = op
	m.lastSVGetDone = true
	return m, nil
}

func (m *Manager) prepareSvModifying(ref command.Ref, action command.SVAction, amount int, date, time []byte) (*Manager, error) {
	inSession := m.Session.State() == session.StateOpen
	alreadyUsed := m.Session.SVOperationInSession()
	if err := command.CheckSvModifyingCommandPreconditions(ref, m.lastSVGetOp, m.lastSVGetDone, alreadyUsed, inSession); err != nil {
		return m, m.failStop(err)
	}
	if ref == command.RefSVDebit {
		if err := command.CheckSvDebitBalance(m.Image.SVBalance, amount, action, m.Settings.SVNegativeBalanceAuthorized); err != nil {
			return m, m.failStop(err)
		}
	}
	if inSession {
		m.Session.MarkSVOperation()
	}
	c := &command.Command{Ctx: command.Context{Ref: ref, SVAction: action, SVAmount: amount, SVDate: date, SVTime: time}}
	if err := m.enqueue(c); err != nil {
		return m, err
	}
	m.lastSVGetDone = false
	return m, nil
}

// PrepareSvReload queues an SV_RELOAD (credit) for amount.
func (m *Manager) PrepareSvReload(amount int, date, time []byte) (*Manager, error) {
	return m.prepareSvModifying(command.RefSVReload, command.SVActionDo, amount, date, time)
}

// PrepareSvDebit queues an SV_DEBIT for amount with the given action
// (DO performs the debit, UNDO reverses a previously accepted one).
func (m *Manager) PrepareSvDebit(amount int, action command.SVAction, date, time []byte) (*Manager, error) {
	ref := command.RefSVDebit
	if action == command.SVActionUndo {
		ref = command.RefSVUndebit
	}
	return m.prepareSvModifying(ref, action, amount, date, time)
}

// PrepareSvReadAllLogs reads the full reload/debit log files. It clears
// the cached SV_GET header and data and sets the image's SVDataDirty flag,
// which stays set until a later SV_GET response is applied (spec §9
// SvReadAllLogs note).
func (m *Manager) PrepareSvReadAllLogs() (*Manager, error) {
	if !m.Image.SVFeature {
		return m, m.failStop(calypsoerr.New(calypsoerr.UnsupportedOperation, "card has no stored-value feature"))
	}
	if !m.Settings.SVLoadAndDebitLogEnabled {
		return m, m.failStop(calypsoerr.New(calypsoerr.UnsupportedOperation, "sv load/debit logging is not enabled in settings"))
	}
	m.Image.ClearSVData()
	if err := m.enqueue(&command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: svLoadLogSFI, FromRecord: 1, ToRecord: 3, RecordSize: 29}}); err != nil {
		return m, err
	}
	if err := m.enqueue(&command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: svDebitLogSFI, FromRecord: 1, ToRecord: 3, RecordSize: 29}}); err != nil {
		return m, err
	}
	return m, nil
}

const (
	svLoadLogSFI  byte = 0x14
	svDebitLogSFI byte = 0x15
)
