package transaction

import (
	"bytes"
	"testing"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto/symdefault"
	"github.com/eclipse-keyple/keyple-card-calypso-go/session"
	"github.com/eclipse-keyple/keyple-card-calypso-go/settings"
)

type noTransmitCard struct{}

func (noTransmitCard) Transmit(req []byte) ([]byte, error) {
	panic("transmit should not be reached for a prepare-time validation failure")
}

func (noTransmitCard) TransmitBatch(apdus [][]byte) ([][]byte, error) {
	panic("transmit should not be reached for a prepare-time validation failure")
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	img := cardimage.New([]byte{1, 2, 3, 4, 5}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, cardimage.ProductPrimeRev3)
	img.PayloadCapacity = 240
	img.PINFeature = true
	img.SVFeature = true
	img.ExtendedModeSupported = true

	st := settings.New().
		AuthorizeSessionKey(0x21, 0x79).
		SetDefaultKVC(cardimage.AccessPersonalization, 0x79).
		SetDefaultKIF(cardimage.AccessPersonalization, 0x21)

	cp, err := symdefault.New(bytes.Repeat([]byte{0x11}, 16), bytes.Repeat([]byte{0x22}, 16), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("symdefault.New() error = %v", err)
	}
	eng := session.New(noTransmitCard{}, cp, false, false, nil)
	return New(img, st, cp, eng, nil)
}

func TestPrepareReadRecordValidation(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareReadRecord(0, 1); !calypsoerr.Is(err, calypsoerr.IllegalArgument) {
		t.Errorf("expected IllegalArgument for sfi 0, got %v", err)
	}
	if _, err := m.PrepareReadRecord(0x08, 251); !calypsoerr.Is(err, calypsoerr.IllegalArgument) {
		t.Errorf("expected IllegalArgument for record 251, got %v", err)
	}
	if _, err := m.PrepareReadRecord(0x08, 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPrepareReadRecordsSplitsIntoChunks(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareReadRecords(0x08, 1, 20, 100); err != nil {
		t.Fatalf("PrepareReadRecords() error = %v", err)
	}
	if len(m.batcher.Commands()) < 2 {
		t.Errorf("expected read_records to split into multiple APDUs, got %d", len(m.batcher.Commands()))
	}
}

func TestPrepareVerifyPinValidation(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareVerifyPin([]byte{1, 2, 3}); !calypsoerr.Is(err, calypsoerr.IllegalArgument) {
		t.Errorf("expected IllegalArgument for short pin, got %v", err)
	}
	if _, err := m.PrepareVerifyPin([]byte{1, 2, 3, 4}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPrepareOpenSecureSessionRejectsUnconfiguredLevel(t *testing.T) {
	m := newTestManager(t)
	// Debit level has no default kvc/kif configured in newTestManager,
	// so compute_kvc fails before authorization is even checked.
	if _, err := m.PrepareOpenSecureSession(cardimage.AccessDebit); !calypsoerr.Is(err, calypsoerr.IllegalArgument) {
		t.Errorf("expected IllegalArgument for unconfigured access level, got %v", err)
	}
}

func TestPrepareOpenSecureSessionSucceeds(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareOpenSecureSession(cardimage.AccessPersonalization); err != nil {
		t.Fatalf("PrepareOpenSecureSession() error = %v", err)
	}
	if len(m.batcher.Commands()) != 1 {
		t.Errorf("expected one queued command, got %d", len(m.batcher.Commands()))
	}
}

func TestPrepareSetCounterUnknownValue(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareSetCounter(0x08, 1, 50); !calypsoerr.Is(err, calypsoerr.IllegalArgument) {
		t.Errorf("expected IllegalArgument for unknown counter, got %v", err)
	}
}

func TestPrepareSetCounterEmitsDelta(t *testing.T) {
	m := newTestManager(t)
	m.Image.SetCounter(0x08, 1, 100)
	if _, err := m.PrepareSetCounter(0x08, 1, 120); err != nil {
		t.Fatalf("PrepareSetCounter() error = %v", err)
	}
	cmds := m.batcher.Commands()
	if len(cmds) != 1 || cmds[0].Ctx.Ref != command.RefIncrease || cmds[0].Ctx.SVAmount != 20 {
		t.Errorf("expected a single INCREASE of 20, got %+v", cmds)
	}
}

func TestPrepareSvDebitWithoutSvGetFails(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareSvDebit(10, command.SVActionDo, nil, nil); !calypsoerr.Is(err, calypsoerr.ImproperState) {
		t.Errorf("expected ImproperState without a preceding SV_GET, got %v", err)
	}
}

func TestPrepareSvDebitNegativeBalanceRejected(t *testing.T) {
	m := newTestManager(t)
	m.Image.SVBalance = 5
	if _, err := m.PrepareSvGet(command.SVOperationDebit, false); err != nil {
		t.Fatalf("PrepareSvGet() error = %v", err)
	}
	if _, err := m.PrepareSvDebit(10, command.SVActionDo, nil, nil); !calypsoerr.Is(err, calypsoerr.IllegalArgument) {
		t.Errorf("expected IllegalArgument for negative resulting balance, got %v", err)
	}
}

func TestPrepareSvReadAllLogsRequiresSetting(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PrepareSvReadAllLogs(); !calypsoerr.Is(err, calypsoerr.UnsupportedOperation) {
		t.Errorf("expected UnsupportedOperation when sv logging is disabled, got %v", err)
	}
}

type fakeAsymProvider struct{}

func (fakeAsymProvider) CreateCardTransactionManager() (crypto.CardTransactionHandle, error) {
	return nil, nil
}

func (fakeAsymProvider) CheckCertificateAndGetContent(cert, parent crypto.ParsedCertificate) ([]byte, error) {
	return nil, nil
}

func (fakeAsymProvider) CheckCertificateAndGetPublicKey(cert, parent crypto.ParsedCertificate, cardIdentifier []byte) ([]byte, error) {
	return nil, nil
}

type fakeCertRegistry struct{}

func (fakeCertRegistry) GetCardCertificateParser(byte) (crypto.CertParser, bool) { return nil, false }
func (fakeCertRegistry) GetCACertificateParser(byte) (crypto.CertParser, bool)   { return nil, false }

func TestEnablePKIWiresSessionFields(t *testing.T) {
	m := newTestManager(t)
	m.Settings.CertParsers = fakeCertRegistry{}
	m.EnablePKI(fakeAsymProvider{})
	if m.Session.Asym == nil || m.Session.CertParsers == nil {
		t.Fatalf("EnablePKI() left session fields unset: asym=%v certParsers=%v", m.Session.Asym, m.Session.CertParsers)
	}
}
