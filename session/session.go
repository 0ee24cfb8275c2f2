// Package session implements the secure session state machine (C7): MAC
// chain discipline (INV-MAC), ratification, MANAGE_SECURE_SESSION
// encoding, and cancellation/abort. Grounded on
// card/globalplatform_scp02.go's session lifecycle (OpenSCP02 ->
// WrapAndSend -> implicit close), generalized into an explicit state
// type and the request/response MAC-absorb loop Calypso's INV-MAC
// invariant requires instead of SCP02's fixed C-MAC-on-every-APDU rule.
package session

import (
	"bytes"
	"log/slog"

	"github.com/eclipse-keyple/keyple-card-calypso-go/apdu"
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
	"github.com/eclipse-keyple/keyple-card-calypso-go/settings"
)

// State is the secure session lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// CardLink is the transport surface the engine needs. Transmit sends one
// APDU and waits for its answer; TransmitBatch sends several in one
// exchange so a sub-session's writes and its closing CLOSE_SECURE_SESSION
// reach the card together (spec §4.7 rule 4: "the anticipated responses
// of the commands in the final atomic batch are pre-fed into the MAC
// chain... the card's actual responses must match"). The session package
// never talks to a physical reader directly — that's the transport
// package's job, wired through the transaction manager.
type CardLink interface {
	Transmit(apdu []byte) (response []byte, err error)
	TransmitBatch(apdus [][]byte) (responses [][]byte, err error)
}

// Engine drives one secure session's command processing: MAC chaining,
// ratification, and encryption toggling, layered over a CardLink and a
// crypto.SymmetricProvider.
type Engine struct {
	Card   CardLink
	Crypto crypto.SymmetricProvider
	Log    *slog.Logger

	// Asym and CertParsers are only set for PKI-mode sessions (§4.7). A
	// symmetric SAM-backed session leaves both nil and openSecureSession
	// skips the chain-of-trust walk entirely.
	Asym        crypto.AsymmetricProvider
	CertParsers crypto.CertParserRegistry

	// Settings lets openSecureSession recompute the real session KIF/KVC
	// from the card-reported values once the OPEN response arrives,
	// instead of trusting the pre-send default. Left nil, the engine
	// falls back to the command's pre-send KIF/KVC (e.g. unit tests that
	// exercise the MAC chain without a full Settings bag).
	Settings *settings.Settings

	state             State
	encryptionActive  bool
	contactless       bool
	ratificationEnabled bool

	svOperationInSession bool
	svPostponedIndex     int
	nbPostponedData      int
}

// New creates an Engine in StateClosed. log may be nil, in which case a
// discard logger is used.
func New(card CardLink, cp crypto.SymmetricProvider, contactless, ratificationEnabled bool, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		Card:                card,
		Crypto:              cp,
		Log:                 log,
		state:               StateClosed,
		contactless:         contactless,
		ratificationEnabled: ratificationEnabled,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

func (e *Engine) transition(to State) {
	e.Log.Debug("session state transition", "from", e.state, "to", to)
	e.state = to
}

// ProcessRound sends cmds to the card in order, feeding request/response
// bytes through the MAC chain per INV-MAC, and mutates img from each
// successfully parsed response. It stops at the first error.
//
// In-session modifying commands are not sent one at a time: they are held
// in pending and flushed as one batch at the next OPEN/MSS boundary, before
// the next non-modifying command, at the end of cmds or, most commonly,
// together with the session's CLOSE_SECURE_SESSION itself — the "final
// atomic batch" of spec §4.7 rule 4. The batch's terminal MAC is computed
// from each command's anticipated response before anything is transmitted,
// and the card's actual responses are checked against those anticipated
// values once the batch returns (Testable Property 8).
//
// cmds must already be finalized (FinalizeRequest called) by the caller;
// commands requiring crypto-provider data (IsCryptoRequiredBeforeSend)
// must have had that data filled in and FinalizeRequest re-run before
// this is called.
func (e *Engine) ProcessRound(cmds []*command.Command, img *cardimage.CardImage) error {
	var pending []*command.Command
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		defer func() { pending = nil }()
		return e.sendModifyingBatch(pending, nil, img)
	}

	for _, c := range cmds {
		switch c.Ctx.Ref {
		case command.RefOpenSecureSession:
			if err := flush(); err != nil {
				return err
			}
			if err := e.openSecureSession(c, img); err != nil {
				return err
			}
			continue
		case command.RefCloseSecureSession:
			batch := pending
			pending = nil
			if err := e.sendModifyingBatch(batch, c, img); err != nil {
				return err
			}
			continue
		case command.RefManageSecureSession:
			if err := flush(); err != nil {
				return err
			}
			if err := e.manageSecureSession(c, img); err != nil {
				return err
			}
			continue
		}

		if e.state == StateOpen && c.Ctx.Ref.IsModifying() {
			pending = append(pending, c)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if e.state != StateOpen {
			if err := e.sendPlain(c, img, c.Request.Bytes); err != nil {
				return err
			}
		} else if err := e.sendInSession(c, img, c.Request.Bytes); err != nil {
			return err
		}
	}
	return flush()
}

func (e *Engine) sendPlain(c *command.Command, img *cardimage.CardImage, reqBytes []byte) error {
	raw, err := e.Card.Transmit(reqBytes)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CardIO, "transmit "+c.Ctx.Ref.String(), err)
	}
	le := declaredLe(c)
	if err := c.ParseResponse(raw, le, img); err != nil {
		return err
	}
	if isSVModifyingRef(c.Ctx.Ref) {
		return e.validateSVSignature(c.Response.Data, img)
	}
	return nil
}

func (e *Engine) sendInSession(c *command.Command, img *cardimage.CardImage, reqBytes []byte) error {
	macIn := reqBytes
	if c.Request.IsCase4() {
		macIn = c.Request.StripLeIfCase4()
	}
	wire, err := e.Crypto.UpdateTerminalSessionMAC(macIn)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CryptoErr, "update session mac (request)", err)
	}
	if e.encryptionActive {
		reqBytes = reconstructCiphered(reqBytes, wire)
	}

	raw, err := e.Card.Transmit(reqBytes)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CardIO, "transmit "+c.Ctx.Ref.String(), err)
	}

	respForMAC := raw
	if e.encryptionActive {
		deciphered, err := e.Crypto.UpdateTerminalSessionMAC(raw)
		if err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "update session mac (response)", err)
		}
		raw = reconstructCiphered(raw, deciphered)
	} else {
		if _, err := e.Crypto.UpdateTerminalSessionMAC(respForMAC); err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "update session mac (response)", err)
		}
	}

	le := declaredLe(c)
	if err := c.ParseResponse(raw, le, img); err != nil {
		e.transition(StateAborting)
		return err
	}
	return nil
}

// reconstructCiphered returns replacement when it is as long as original
// and original otherwise; no header or trailer bytes are spliced back.
func reconstructCiphered(original, replacement []byte) []byte {
	if len(replacement) == len(original) {
		return replacement
	}
	return original
}

func declaredLe(c *command.Command) int {
	if c.Request.Case == apdu.Case2 || c.Request.Case == apdu.Case4 {
		if n := len(c.Request.Bytes); n > 0 {
			return int(c.Request.Bytes[n-1])
		}
	}
	return 0
}

func (e *Engine) openSecureSession(c *command.Command, img *cardimage.CardImage) error {
	if e.state != StateClosed {
		return calypsoerr.New(calypsoerr.ImproperState, "OPEN_SECURE_SESSION issued while a session is already open")
	}
	raw, err := e.Card.Transmit(c.Request.Bytes)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CardIO, "transmit OPEN_SECURE_SESSION", err)
	}
	if err := c.ParseResponse(raw, declaredLe(c), img); err != nil {
		return err
	}
	if e.Asym != nil && e.CertParsers != nil && len(img.CardCertificate) > 0 {
		if err := verifyCertificateChain(e.Asym, e.CertParsers, img); err != nil {
			return err
		}
	}

	kif, kvc := c.Ctx.KIF, c.Ctx.KVC
	if e.Settings != nil {
		cardKVC := img.KVC
		resolvedKVC, _ := e.Settings.ComputeKVC(c.Ctx.WriteAccessLevel, &cardKVC)
		resolvedKIF, _ := e.Settings.ComputeKIF(c.Ctx.WriteAccessLevel, img.KIF, &resolvedKVC)
		if !e.Settings.IsSessionKeyAuthorized(resolvedKIF, resolvedKVC) {
			return calypsoerr.New(calypsoerr.UnauthorizedKey, "session key not authorized")
		}
		kif, kvc = resolvedKIF, resolvedKVC
		c.Ctx.KIF, c.Ctx.KVC = kif, kvc
		img.KIF, img.KVC = kif, kvc
	}

	if err := e.Crypto.InitTerminalSessionMAC(c.Response.Data, kif, kvc); err != nil {
		return calypsoerr.Wrap(calypsoerr.CryptoErr, "init terminal session mac", err)
	}
	e.svOperationInSession = false
	e.nbPostponedData = 0
	e.transition(StateOpen)
	return nil
}

func (e *Engine) manageSecureSession(c *command.Command, img *cardimage.CardImage) error {
	if e.state != StateOpen {
		return calypsoerr.New(calypsoerr.ImproperState, "MANAGE_SECURE_SESSION issued outside a session")
	}
	if c.Ctx.MutualAuth {
		mac, err := e.Crypto.GenerateTerminalSessionMAC()
		if err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "generate terminal session mac", err)
		}
		c.Ctx.TerminalMAC = mac
		if err := c.FinalizeRequest(); err != nil {
			return err
		}
	}
	raw, err := e.Card.Transmit(c.Request.Bytes)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CardIO, "transmit MANAGE_SECURE_SESSION", err)
	}
	if err := c.ParseResponse(raw, declaredLe(c), img); err != nil {
		return err
	}
	if c.Ctx.ActivateEnc {
		if err := e.Crypto.ActivateEncryption(); err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "activate encryption", err)
		}
		e.encryptionActive = true
	} else if !c.Ctx.MutualAuth {
		if err := e.Crypto.DeactivateEncryption(); err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "deactivate encryption", err)
		}
		e.encryptionActive = false
	}
	return nil
}

// sendModifyingBatch transmits pending (a run of in-session modifying
// commands) together with closeCmd, if any, as a single multi-APDU
// exchange. Before anything is sent, each pending command's request bytes
// and anticipated response are fed through the MAC chain in order (spec
// §4.7 rule 4), and closeCmd's terminal MAC is computed over that chain —
// so the card only ever needs to see the final batch once. Once the
// batch returns, every anticipated response is checked against the
// card's actual answer (Testable Property 8) before being applied to img;
// a mismatch aborts the session rather than trusting a guessed value.
//
// closeCmd may be nil (a mid-session flush at an OPEN/MSS boundary, or a
// non-modifying command); pending may be empty (a CLOSE with nothing
// buffered ahead of it).
func (e *Engine) sendModifyingBatch(pending []*command.Command, closeCmd *command.Command, img *cardimage.CardImage) error {
	if len(pending) == 0 && closeCmd == nil {
		return nil
	}
	if closeCmd != nil && e.state != StateOpen {
		return calypsoerr.New(calypsoerr.ImproperState, "CLOSE_SECURE_SESSION issued outside a session")
	}

	apdus := make([][]byte, 0, len(pending)+2)
	anticipated := make([][]byte, 0, len(pending))

	for _, c := range pending {
		reqBytes := c.Request.Bytes
		macIn := reqBytes
		if c.Request.IsCase4() {
			macIn = c.Request.StripLeIfCase4()
		}
		wire, err := e.Crypto.UpdateTerminalSessionMAC(macIn)
		if err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "update session mac (request)", err)
		}
		if e.encryptionActive {
			reqBytes = reconstructCiphered(reqBytes, wire)
		}

		resp, err := command.AnticipatedResponse(c, img, img.CountersPostponed)
		if err != nil {
			return calypsoerr.Wrap(calypsoerr.AnticipationFailure, "anticipate response to "+c.Ctx.Ref.String(), err)
		}
		if _, err := e.Crypto.UpdateTerminalSessionMAC(resp); err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "update session mac (anticipated response)", err)
		}

		apdus = append(apdus, reqBytes)
		anticipated = append(anticipated, resp)
	}

	sendRatification := false
	if closeCmd != nil {
		if !closeCmd.Ctx.Abort {
			mac, err := e.Crypto.FinalizeTerminalSessionMAC()
			if err != nil {
				return calypsoerr.Wrap(calypsoerr.CryptoErr, "finalize terminal session mac", err)
			}
			closeCmd.Ctx.TerminalSessionMAC = mac
			if err := closeCmd.FinalizeRequest(); err != nil {
				return err
			}
		}
		apdus = append(apdus, closeCmd.Request.Bytes)
		if !closeCmd.Ctx.Abort && e.contactless && e.ratificationEnabled && !closeCmd.Ctx.Ratified {
			apdus = append(apdus, ratificationAPDU())
			sendRatification = true
		}
	}

	raws, txErr := e.Card.TransmitBatch(apdus)
	if txErr != nil {
		wantShort := sendRatification && len(raws) == len(apdus)-1
		if !wantShort {
			return calypsoerr.Wrap(calypsoerr.CardIO, "transmit batch", txErr)
		}
		// CL-RAT-DELAY.1: losing the trailing ratification-only APDU's
		// answer does not abort the session, provided every command and
		// CLOSE response arrived.
	} else if len(raws) != len(apdus) && !(sendRatification && len(raws) == len(apdus)-1) {
		return calypsoerr.New(calypsoerr.CardIO, "card returned an unexpected number of responses")
	}

	nonRatificationCount := len(apdus)
	if sendRatification {
		nonRatificationCount--
	}
	if len(raws) < nonRatificationCount {
		return calypsoerr.New(calypsoerr.CardIO, "card returned fewer responses than commands sent")
	}

	for i, c := range pending {
		if !bytes.Equal(raws[i], anticipated[i]) {
			e.transition(StateAborting)
			return calypsoerr.New(calypsoerr.AnticipationFailure,
				"card response to "+c.Ctx.Ref.String()+" did not match the anticipated response")
		}
		if err := c.ParseResponse(raws[i], declaredLe(c), img); err != nil {
			return err
		}
	}

	if closeCmd == nil {
		return nil
	}

	if err := closeCmd.ParseResponse(raws[len(pending)], declaredLe(closeCmd), img); err != nil {
		return err
	}
	if !closeCmd.Ctx.Abort {
		if err := e.verifyCloseSecurity(closeCmd, img); err != nil {
			return err
		}
	}

	e.encryptionActive = false
	e.transition(StateClosed)
	return nil
}

// verifyCloseSecurity validates the card session MAC carried in
// closeCmd's response and, when the session carried an SV modifying
// command, extracts and validates the card's SV MAC from the postponed
// data that follows it (spec §4.3 step 4 / GLOSSARY "Postponed data").
// symdefault's retail MAC is always 8 bytes, so the session MAC always
// occupies the first 8 response bytes regardless of how much postponed
// data trails it.
func (e *Engine) verifyCloseSecurity(closeCmd *command.Command, img *cardimage.CardImage) error {
	data := closeCmd.Response.Data
	if len(data) < 8 {
		return calypsoerr.New(calypsoerr.InvalidCardSessionMac, "close response too short for a session mac")
	}
	mac, tail := data[:8], data[8:]

	if ok, err := e.Crypto.IsCardSessionMACValid(mac); err != nil {
		return calypsoerr.Wrap(calypsoerr.CryptoErr, "validate card session mac", err)
	} else if !ok {
		return calypsoerr.New(calypsoerr.InvalidCardSessionMac, "card session mac did not validate")
	}

	if e.nbPostponedData == 0 {
		return nil
	}
	entries, err := parsePostponedEntries(tail, e.nbPostponedData)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.InconsistentData, "parse postponed data", err)
	}
	if e.svOperationInSession {
		sig := entries[e.svPostponedIndex]
		img.SVOperationSignature = append([]byte(nil), sig...)
		if ok, err := e.Crypto.IsCardSVMACValid(sig); err != nil {
			return calypsoerr.Wrap(calypsoerr.CryptoErr, "validate card sv mac", err)
		} else if !ok {
			return calypsoerr.New(calypsoerr.InvalidCardSvMac, "card sv mac did not validate")
		}
	}
	return nil
}

// parsePostponedEntries splits CLOSE_SECURE_SESSION's postponed-data tail
// into count length-prefixed entries (1-byte length, then payload), in
// the order the modifying commands that produced them were sent.
func parsePostponedEntries(tail []byte, count int) ([][]byte, error) {
	entries := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if len(tail) < 1 {
			return nil, calypsoerr.New(calypsoerr.InconsistentData, "truncated postponed data")
		}
		n := int(tail[0])
		tail = tail[1:]
		if len(tail) < n {
			return nil, calypsoerr.New(calypsoerr.InconsistentData, "truncated postponed data entry")
		}
		entries = append(entries, tail[:n])
		tail = tail[n:]
	}
	return entries, nil
}

func isSVModifyingRef(r command.Ref) bool {
	switch r {
	case command.RefSVReload, command.RefSVDebit, command.RefSVUndebit:
		return true
	default:
		return false
	}
}

// validateSVSignature checks the card's SV MAC on an SV modifying command
// answered outside a session, where the card returns the signature
// directly in the command response rather than as postponed CLOSE data.
func (e *Engine) validateSVSignature(sig []byte, img *cardimage.CardImage) error {
	img.SVOperationSignature = append([]byte(nil), sig...)
	ok, err := e.Crypto.IsCardSVMACValid(sig)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CryptoErr, "validate card sv mac", err)
	}
	if !ok {
		return calypsoerr.New(calypsoerr.InvalidCardSvMac, "card sv mac did not validate")
	}
	return nil
}

func ratificationAPDU() []byte {
	return []byte{0x00, 0xB2, 0x00, 0x00, 0x00}
}

// AbortSilently implements abort_secure_session_silently (spec §7): a
// best-effort abort-mode CLOSE, unconditional file restore from backup,
// transition to CLOSED, regardless of the card's answer.
func (e *Engine) AbortSilently(img *cardimage.CardImage, backup *cardimage.Snapshot) {
	e.transition(StateAborting)
	abort := &command.Command{Ctx: command.Context{Ref: command.RefCloseSecureSession, Abort: true}}
	if err := abort.FinalizeRequest(); err == nil {
		_, _ = e.Card.Transmit(abort.Request.Bytes)
	}
	img.RestoreFrom(backup)
	e.encryptionActive = false
	e.transition(StateClosed)
}

// ProcessCancel implements spec §4.7 processCancel: abort-mode CLOSE,
// unconditional restore, CLOSED, independent of prior state errors.
func (e *Engine) ProcessCancel(img *cardimage.CardImage, backup *cardimage.Snapshot) {
	e.AbortSilently(img, backup)
}

// MarkSVOperation records that an SV modifying command has been queued
// in the current session (CL-SV-1PCSS.1 bookkeeping) and returns the
// postponed-data index it will occupy.
func (e *Engine) MarkSVOperation() (index int, alreadyUsed bool) {
	if e.svOperationInSession {
		return e.svPostponedIndex, true
	}
	e.svOperationInSession = true
	e.svPostponedIndex = e.nbPostponedData
	e.nbPostponedData++
	return e.svPostponedIndex, false
}

// SVOperationInSession reports whether an SV modifying command has
// already been recorded for the current session.
func (e *Engine) SVOperationInSession() bool { return e.svOperationInSession }
