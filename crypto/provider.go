// Package crypto defines the pluggable crypto-provider contracts the core
// depends on. The symmetric variant is SAM-backed (§4.4 of the spec); the
// asymmetric variant backs PKI-mode sessions. Both are treated as opaque
// collaborators — the core never implements the cryptographic primitives
// itself, only the protocol that drives them.
package crypto

// SVSecurityData carries the fields a SAM fills in to finalize an SV
// command (SV_RELOAD/DEBIT/UNDEBIT): a 4-byte SAM id, a 3-byte challenge, a
// 3-byte transaction number, and a 5- or 10-byte MAC depending on whether
// the card runs in extended mode.
type SVSecurityData struct {
	SAMID        []byte
	Challenge    []byte
	TNum         []byte
	MAC          []byte
	ExtendedMode bool
}

// SymmetricProvider is the SAM-backed crypto collaborator. It maintains the
// MAC chain digest and cipher state across a secure session; the session
// state machine (package session) feeds it in strict request/response order.
type SymmetricProvider interface {
	// InitTerminalSecureSessionContext returns the SAM's 8-byte challenge,
	// used to seed OPEN SECURE SESSION.
	InitTerminalSecureSessionContext() ([]byte, error)

	// InitTerminalSessionMAC starts the MAC chain after the card's OPEN
	// SECURE SESSION response body arrives.
	InitTerminalSessionMAC(openSessionResponseData []byte, kif, kvc byte) error

	// UpdateTerminalSessionMAC absorbs request or response bytes into the
	// running MAC. In encryption-active mode it returns the
	// ciphered/deciphered replacement bytes (same length as in); otherwise
	// it returns in unchanged. The provider tracks direction internally:
	// odd calls are requests, even calls are responses.
	UpdateTerminalSessionMAC(in []byte) ([]byte, error)

	// ActivateEncryption / DeactivateEncryption are toggled only through
	// MANAGE SECURE SESSION.
	ActivateEncryption() error
	DeactivateEncryption() error

	// GenerateTerminalSessionMAC computes an 8-byte MAC over the session so
	// far, for early mutual authentication (MANAGE SECURE SESSION).
	GenerateTerminalSessionMAC() ([]byte, error)

	// FinalizeTerminalSessionMAC computes the 8-byte terminal MAC sent
	// inside CLOSE SECURE SESSION.
	FinalizeTerminalSessionMAC() ([]byte, error)

	// IsCardSessionMACValid validates the card's session MAC returned in
	// the CLOSE SECURE SESSION response.
	IsCardSessionMACValid(mac []byte) (bool, error)

	// IsCardSVMACValid validates the card's SV MAC, found either in the
	// postponed CLOSE data (in-session) or directly in the SV command
	// response (outside a session).
	IsCardSVMACValid(mac []byte) (bool, error)

	// CipherPINForPresentation ciphers a 4-digit PIN for VERIFY PIN using
	// the card challenge and the configured PIN-verification key.
	CipherPINForPresentation(challenge, pin []byte, kif, kvc byte) ([]byte, error)

	// CipherPINForModification ciphers current+new PIN for CHANGE PIN.
	CipherPINForModification(challenge, currentPIN, newPIN []byte, kif, kvc byte) ([]byte, error)

	// ComputeSVCommandSecurityData fills io's SAMID/Challenge/TNum/MAC for
	// an SV_RELOAD/DEBIT/UNDEBIT command.
	ComputeSVCommandSecurityData(io *SVSecurityData) error

	// GenerateCipheredCardKey produces the 32-byte ciphered key block for
	// CHANGE KEY.
	GenerateCipheredCardKey(challenge []byte, issuerKIF, issuerKVC, newKIF, newKVC byte) ([]byte, error)

	// PreInitTerminalSecureSessionContext idempotently pre-diversifies the
	// SAM for the next transaction.
	PreInitTerminalSecureSessionContext() error

	// Synchronize flushes any SAM APDUs the provider has batched internally.
	Synchronize() error
}

// ParsedCertificate is an opaque, parsed certificate handle.
type ParsedCertificate interface {
	TypeByte() byte
	Raw() []byte
}

// CardTransactionHandle is an opaque PKI-mode transaction context.
type CardTransactionHandle interface{}

// AsymmetricProvider backs PKI-mode sessions: certificate-chain
// verification and card public-key extraction.
type AsymmetricProvider interface {
	CreateCardTransactionManager() (CardTransactionHandle, error)
	CheckCertificateAndGetContent(cert, parent ParsedCertificate) ([]byte, error)
	CheckCertificateAndGetPublicKey(cert, parent ParsedCertificate, cardIdentifier []byte) ([]byte, error)
}

// CertParser parses a raw certificate of one type.
type CertParser interface {
	Parse(raw []byte) (ParsedCertificate, error)
}

// CertParserRegistry looks up a certificate parser by its type byte — the
// pluggable parser-per-type-byte registry §4.7 PKI mode requires.
type CertParserRegistry interface {
	GetCardCertificateParser(typeByte byte) (CertParser, bool)
	GetCACertificateParser(typeByte byte) (CertParser, bool)
}
