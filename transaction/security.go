package transaction

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
	"github.com/eclipse-keyple/keyple-card-calypso-go/session"
)

// EnablePKI switches the next OPEN_SECURE_SESSION onto the PKI-mode
// chain-of-trust walk (spec §4.7): the session engine verifies the card's
// certificate against asym and m.Settings.CertParsers before trusting the
// session. Settings.CertParsers must already be populated; EnablePKI
// itself only wires the asymmetric provider through.
func (m *Manager) EnablePKI(asym crypto.AsymmetricProvider) {
	m.Session.Asym = asym
	m.Session.CertParsers = m.Settings.CertParsers
}

// PrepareVerifyPin queues a VERIFY_PIN. pin must be exactly 4 digits
// (spec §6). Plain transmission requires
// settings.PINPlainTransmissionEnabled; otherwise the PIN is ciphered
// against the card's current challenge.
func (m *Manager) PrepareVerifyPin(pin []byte) (*Manager, error) {
	if len(pin) != 4 {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "pin must be 4 digits, got %d", len(pin)))
	}
	if !m.Image.PINFeature {
		return m, m.failStop(calypsoerr.New(calypsoerr.UnsupportedOperation, "card has no pin feature"))
	}

	data := pin
	if !m.Settings.PINPlainTransmissionEnabled {
		ciphered, err := m.Crypto.CipherPINForPresentation(m.Image.Challenge, pin, m.Settings.PINVerificationKIF, m.Settings.PINVerificationKVC)
		if err != nil {
			return m, m.failStop(calypsoerr.Wrap(calypsoerr.CryptoErr, "cipher pin for presentation", err))
		}
		data = ciphered
	}
	c := &command.Command{Ctx: command.Context{Ref: command.RefVerifyPIN, PINData: data, EncryptedPIN: !m.Settings.PINPlainTransmissionEnabled}}
	return m, m.enqueue(c)
}

// PrepareChangePin queues a CHANGE_PIN; newPin must be 4 digits. Not
// valid while a secure session is open (spec §4.2 ImproperState kind).
func (m *Manager) PrepareChangePin(newPin []byte) (*Manager, error) {
	if len(newPin) != 4 {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "new pin must be 4 digits, got %d", len(newPin)))
	}
	if m.Session.State() == session.StateOpen {
		return m, m.failStop(calypsoerr.New(calypsoerr.ImproperState, "change pin is not allowed while a secure session is open"))
	}
	c := &command.Command{Ctx: command.Context{Ref: command.RefChangePIN, NewPINData: newPin, KIF: m.Settings.PINModificationKIF, KVC: m.Settings.PINModificationKVC}}
	return m, m.enqueue(c)
}

// PrepareCheckPinStatus queues a zero-data VERIFY_PIN to query the
// remaining attempt counter without attempting authentication.
func (m *Manager) PrepareCheckPinStatus() (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefVerifyPIN}}
	return m, m.enqueue(c)
}

// PrepareChangeKey queues a CHANGE_KEY for key slot index.
func (m *Manager) PrepareChangeKey(index byte, newKIF, newKVC, issuerKIF, issuerKVC byte) (*Manager, error) {
	ciphered, err := m.Crypto.GenerateCipheredCardKey(m.Image.Challenge, issuerKIF, issuerKVC, newKIF, newKVC)
	if err != nil {
		return m, m.failStop(calypsoerr.Wrap(calypsoerr.CryptoErr, "generate ciphered card key", err))
	}
	c := &command.Command{Ctx: command.Context{
		Ref: command.RefChangeKey, ChangeKeyIndex: index,
		NewKIF: newKIF, NewKVC: newKVC, IssuerKIF: issuerKIF, IssuerKVC: issuerKVC,
		Data: ciphered,
	}}
	return m, m.enqueue(c)
}

// PrepareEarlyMutualAuthentication queues a MANAGE_SECURE_SESSION in
// mutual-auth mode without toggling encryption.
func (m *Manager) PrepareEarlyMutualAuthentication() (*Manager, error) {
	if !m.Image.ExtendedModeSupported {
		return m, m.failStop(calypsoerr.New(calypsoerr.UnsupportedOperation, "mutual authentication requires extended mode support"))
	}
	c := &command.Command{Ctx: command.Context{Ref: command.RefManageSecureSession, MutualAuth: true}}
	return m, m.enqueue(c)
}

// PrepareActivateEncryption queues a MANAGE_SECURE_SESSION that turns
// on in-session encryption starting with the next command.
func (m *Manager) PrepareActivateEncryption() (*Manager, error) {
	if !m.Image.ExtendedModeSupported {
		return m, m.failStop(calypsoerr.New(calypsoerr.UnsupportedOperation, "encryption requires extended mode support"))
	}
	c := &command.Command{Ctx: command.Context{Ref: command.RefManageSecureSession, ActivateEnc: true}}
	return m, m.enqueue(c)
}

// PrepareDeactivateEncryption queues a MANAGE_SECURE_SESSION that turns
// off in-session encryption starting with the next command.
func (m *Manager) PrepareDeactivateEncryption() (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefManageSecureSession}}
	return m, m.enqueue(c)
}

// PrepareInvalidate queues an INVALIDATE administrative command.
func (m *Manager) PrepareInvalidate() (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefInvalidate}}
	return m, m.enqueue(c)
}

// PrepareRehabilitate queues a REHABILITATE administrative command.
func (m *Manager) PrepareRehabilitate() (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefRehabilitate}}
	return m, m.enqueue(c)
}
