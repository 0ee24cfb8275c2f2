// Package command implements the Calypso command descriptors (C2): one
// tagged-variant Command type dispatched by Ref, following the style
// of the teacher's status-word table and per-command APDU builders in
// card/apdu.go, generalized into methods on a single variant struct
// instead of one function per command.
package command

import (
	"encoding/binary"
	"fmt"

	"github.com/eclipse-keyple/keyple-card-calypso-go/apdu"
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

// Ref identifies a Calypso command kind.
type Ref int

const (
	RefOpenSecureSession Ref = iota
	RefCloseSecureSession
	RefManageSecureSession
	RefSelectFile
	RefGetData
	RefGetChallenge
	RefReadRecords
	RefReadRecordMultiple
	RefReadBinary
	RefSearchRecordMultiple
	RefUpdateRecord
	RefWriteRecord
	RefAppendRecord
	RefUpdateBinary
	RefWriteBinary
	RefIncrease
	RefDecrease
	RefIncreaseMultiple
	RefDecreaseMultiple
	RefVerifyPIN
	RefChangePIN
	RefChangeKey
	RefInvalidate
	RefRehabilitate
	RefSVGet
	RefSVReload
	RefSVDebit
	RefSVUndebit
	RefRatification
)

func (r Ref) String() string {
	switch r {
	case RefOpenSecureSession:
		return "OPEN_SECURE_SESSION"
	case RefCloseSecureSession:
		return "CLOSE_SECURE_SESSION"
	case RefManageSecureSession:
		return "MANAGE_SECURE_SESSION"
	case RefSelectFile:
		return "SELECT_FILE"
	case RefGetData:
		return "GET_DATA"
	case RefGetChallenge:
		return "GET_CHALLENGE"
	case RefReadRecords:
		return "READ_RECORDS"
	case RefReadRecordMultiple:
		return "READ_RECORD_MULTIPLE"
	case RefReadBinary:
		return "READ_BINARY"
	case RefSearchRecordMultiple:
		return "SEARCH_RECORD_MULTIPLE"
	case RefUpdateRecord:
		return "UPDATE_RECORD"
	case RefWriteRecord:
		return "WRITE_RECORD"
	case RefAppendRecord:
		return "APPEND_RECORD"
	case RefUpdateBinary:
		return "UPDATE_BINARY"
	case RefWriteBinary:
		return "WRITE_BINARY"
	case RefIncrease:
		return "INCREASE"
	case RefDecrease:
		return "DECREASE"
	case RefIncreaseMultiple:
		return "INCREASE_MULTIPLE"
	case RefDecreaseMultiple:
		return "DECREASE_MULTIPLE"
	case RefVerifyPIN:
		return "VERIFY_PIN"
	case RefChangePIN:
		return "CHANGE_PIN"
	case RefChangeKey:
		return "CHANGE_KEY"
	case RefInvalidate:
		return "INVALIDATE"
	case RefRehabilitate:
		return "REHABILITATE"
	case RefSVGet:
		return "SV_GET"
	case RefSVReload:
		return "SV_RELOAD"
	case RefSVDebit:
		return "SV_DEBIT"
	case RefSVUndebit:
		return "SV_UNDEBIT"
	case RefRatification:
		return "RATIFICATION"
	default:
		return fmt.Sprintf("Ref(%d)", int(r))
	}
}

// IsModifying reports whether this command consumes session buffer space
// and requires card-file rollback on abort.
func (r Ref) IsModifying() bool {
	switch r {
	case RefUpdateRecord, RefWriteRecord, RefAppendRecord, RefUpdateBinary,
		RefWriteBinary, RefIncrease, RefDecrease, RefIncreaseMultiple,
		RefDecreaseMultiple, RefSVReload, RefSVDebit, RefSVUndebit,
		RefInvalidate, RefRehabilitate, RefChangeKey, RefChangePIN:
		return true
	default:
		return false
	}
}

// IsPostponable reports whether SW 0x6200 is a legitimate success answer
// for r: the card defers the real payload (new counter value, SV MAC) to
// the CLOSE_SECURE_SESSION response's postponed-data section.
func (r Ref) IsPostponable() bool {
	switch r {
	case RefIncrease, RefDecrease, RefSVReload, RefSVDebit, RefSVUndebit:
		return true
	default:
		return false
	}
}

// StatusEntry maps one non-success SW to an error classification.
type StatusEntry struct {
	Kind calypsoerr.Kind
	Msg  string
}

// StatusTable is a per-command SW→StatusEntry lookup. 0x9000 is always
// implicitly Success and need not be listed.
type StatusTable map[uint16]StatusEntry

// Lookup classifies sw: 0x9000 always reports success; any other sw
// returns the table's entry, or a zero entry and false when sw is absent
// from the table.
func (t StatusTable) Lookup(sw uint16) (StatusEntry, bool) {
	if sw == 0x9000 {
		return StatusEntry{}, true
	}
	e, ok := t[sw]
	return e, ok
}

// commonStatusTable carries status words most commands share.
var commonStatusTable = StatusTable{
	0x6A82: {calypsoerr.SelectFile, "file not found"},
	0x6A83: {calypsoerr.InconsistentData, "record not found"},
	0x6700: {calypsoerr.InconsistentData, "wrong length"},
	0x6982: {calypsoerr.UnauthorizedKey, "security status not satisfied"},
	0x6985: {calypsoerr.ImproperState, "conditions of use not satisfied"},
	0x6A86: {calypsoerr.IllegalArgument, "incorrect P1-P2"},
	0x6D00: {calypsoerr.UnsupportedOperation, "instruction not supported"},
}

// Context carries the per-command parameters needed to build its APDU
// and to interpret its response. Only the fields relevant to Ref are
// populated; it plays the role the spec's single polymorphic command
// record plays, kept as one struct per the spec's own recommendation
// (Design Notes §9) rather than one type per Ref.
type Context struct {
	Ref Ref

	CLA byte

	// File/record addressing.
	SFI          byte
	RecordNumber int
	FromRecord   int
	ToRecord     int
	Offset       int
	NbBytes      int
	RecordSize   int
	SearchData   []byte

	Data []byte

	// Counters.
	CounterID int
	Deltas    map[int]int // counter id -> signed delta, for *_MULTIPLE

	// Security.
	WriteAccessLevel  cardimage.AccessLevel
	KIF, KVC          byte
	TerminalChallenge []byte
	PINData           []byte
	NewPINData        []byte
	EncryptedPIN      bool
	ChangeKeyIndex    byte
	IssuerKIF         byte
	IssuerKVC         byte
	NewKIF            byte
	NewKVC            byte

	// MANAGE_SECURE_SESSION.
	MutualAuth     bool
	ActivateEnc    bool
	TerminalMAC    []byte

	// CLOSE_SECURE_SESSION.
	Abort            bool
	Ratified         bool
	TerminalSessionMAC []byte

	// SV family.
	SVAction SVAction
	SVOp     SVOperation
	SVAmount int
	SVDate   []byte
	SVTime   []byte

	// Select/get-data.
	SelectLID     []byte
	SelectControl byte
	GetDataTag    uint16

	Extended bool // card supports extended-mode APDUs
}

// Command is one finalized-or-finalizable instance of a command
// descriptor: the parameters that built it (Context), the resulting
// request bytes, and the parsed response once available.
type Command struct {
	Ctx     Context
	Request apdu.Request

	finalized bool

	Response    apdu.Response
	Parsed      bool
	ResponseErr error
}

// FinalizeRequest builds (or rebuilds, idempotently — rule I5) the wire
// bytes for this command. Commands whose bytes depend on crypto-provider
// output (CLOSE_SECURE_SESSION, SV_RELOAD/DEBIT/UNDEBIT, encrypted
// VERIFY_PIN) must have their Ctx fields populated by the crypto
// provider before this call; building is otherwise pure.
func (c *Command) FinalizeRequest() error {
	req, err := buildRequest(c.Ctx)
	if err != nil {
		return err
	}
	c.Request = req
	c.finalized = true
	return nil
}

// IsFinalized reports whether FinalizeRequest has been called at least
// once (rule I5 supports re-finalizing, e.g. once the crypto provider
// has filled in deferred fields).
func (c *Command) IsFinalized() bool { return c.finalized }

// IsCryptoRequiredBeforeSend reports whether the crypto provider must be
// consulted to finish building the request before it can be sent.
func (c *Command) IsCryptoRequiredBeforeSend() bool {
	switch c.Ctx.Ref {
	case RefCloseSecureSession, RefSVReload, RefSVDebit, RefSVUndebit, RefManageSecureSession:
		return true
	case RefVerifyPIN, RefChangePIN, RefChangeKey:
		return true
	default:
		return false
	}
}

// SynchronizeCryptoBeforeCardProcessing reports whether the crypto
// provider was already updated with this command's bytes before the
// APDU leaves (true), or whether the queue must flush prior buffered
// commands through the provider first (false) — spec §4.3.
func (c *Command) SynchronizeCryptoBeforeCardProcessing() bool {
	switch c.Ctx.Ref {
	case RefOpenSecureSession, RefCloseSecureSession, RefManageSecureSession:
		return true
	default:
		return false
	}
}

// ParseResponse validates sw against the per-command status table,
// enforces CL-CSS-RESPLE.1 (data length must equal the declared Le when
// Le != 0), and mutates img to reflect the card's reply. le is the Le
// this command's request declared (0 if none).
func (c *Command) ParseResponse(raw []byte, le int, img *cardimage.CardImage) error {
	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.CardIO, "parse apdu response", err)
	}
	c.Response = resp

	if c.Ctx.Ref == RefVerifyPIN && img != nil {
		if n, ok := pinAttemptsForSW(resp.SW); ok {
			_ = img.SetPINAttemptsRemaining(n)
		}
	}

	success := resp.SW == 0x9000 || (resp.SW == 0x6200 && c.Ctx.Ref.IsPostponable())
	if !success {
		table := statusTableFor(c.Ctx.Ref)
		entry, known := table[resp.SW]
		if !known {
			entry, known = commonStatusTable[resp.SW]
		}
		kind := calypsoerr.UnexpectedCommandStatus
		msg := fmt.Sprintf("unexpected status word %04X", resp.SW)
		if known {
			kind = entry.Kind
			msg = entry.Msg
		}
		c.ResponseErr = calypsoerr.WithAudit(calypsoerr.New(kind, msg), []calypsoerr.AuditEntry{{
			CommandRef: c.Ctx.Ref.String(),
			Request:    c.Request.Bytes,
			Response:   raw,
			SW:         resp.SW,
		}})
		return c.ResponseErr
	}

	if le != 0 && len(resp.Data) != le {
		c.ResponseErr = calypsoerr.Newf(calypsoerr.InconsistentData,
			"%s: response length %d does not match declared Le %d", c.Ctx.Ref, len(resp.Data), le)
		return c.ResponseErr
	}

	c.Parsed = true
	if img != nil {
		applyResponse(c, img)
	}
	return nil
}

func be16(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func be24(v int) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

func u24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
