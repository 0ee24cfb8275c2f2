// Package cardimage holds the in-memory mirror of a selected Calypso
// application: its DF/EF tree, counters, SV purse state and volatile
// session fields. It is exclusively owned by one transaction manager.
package cardimage

import "fmt"

// Product identifies the Calypso product revision, which governs
// capability defaults (payload capacity, extended mode, legacy case-1
// quirks).
type Product int

const (
	ProductUnknown Product = iota
	ProductPrimeRev1
	ProductPrimeRev2
	ProductPrimeRev3
	ProductLight
	ProductBasic
)

// FileType is the EF structure kind.
type FileType int

const (
	FileLinear FileType = iota
	FileCyclic
	FileBinary
	FileCounters
)

// AccessLevel is the secure session write-access level (personalization,
// load, debit), used to pick KIF/KVC defaults and SV permissions.
type AccessLevel int

const (
	AccessPersonalization AccessLevel = iota
	AccessLoad
	AccessDebit
)

func (l AccessLevel) String() string {
	switch l {
	case AccessPersonalization:
		return "personalization"
	case AccessLoad:
		return "load"
	case AccessDebit:
		return "debit"
	default:
		return "unknown"
	}
}

// ElementaryFile is one EF in the card's file tree.
type ElementaryFile struct {
	Type         FileType
	RecordSize   int
	Records      map[int][]byte // record_number -> bytes, linear/cyclic
	Binary       []byte         // used when Type == FileBinary
	Counters     map[int]int    // used when Type == FileCounters
}

func newElementaryFile(t FileType, recordSize int) *ElementaryFile {
	return &ElementaryFile{
		Type:       t,
		RecordSize: recordSize,
		Records:    make(map[int][]byte),
		Counters:   make(map[int]int),
	}
}

func (f *ElementaryFile) deepCopy() *ElementaryFile {
	cp := &ElementaryFile{Type: f.Type, RecordSize: f.RecordSize}
	cp.Records = make(map[int][]byte, len(f.Records))
	for k, v := range f.Records {
		cp.Records[k] = append([]byte(nil), v...)
	}
	cp.Binary = append([]byte(nil), f.Binary...)
	cp.Counters = make(map[int]int, len(f.Counters))
	for k, v := range f.Counters {
		cp.Counters[k] = v
	}
	return cp
}

// CardImage is the mutable mirror of a card's selected application.
// Exclusively owned by one TransactionManager (never shared).
type CardImage struct {
	// Identity — immutable after selection (invariant I1).
	DFName       []byte
	SerialNumber []byte
	Product      Product

	// Capabilities.
	ExtendedModeSupported       bool
	PINFeature                  bool
	SVFeature                   bool
	ModificationsCounterInBytes bool
	PayloadCapacity             int
	IsLegacyCase1               bool
	InitialModificationsCounter int
	CountersPostponed           bool // INCREASE/DECREASE answer 0x6200 instead of the new value

	// Volatile session state.
	Challenge             []byte
	KIF                   byte
	KVC                   byte
	PINAttemptsRemaining  int
	SVBalance             int
	SVTNum                int
	SVKVC                 byte
	SVGetHeader           []byte
	SVGetData             []byte
	SVOperationSignature  []byte
	SVDataDirty           bool // set by ClearSVData (SvReadAllLogs); cleared by SetSVData on the next SV_GET response
	CardPublicKey         []byte
	CardCertificate        []byte
	CACertificate          []byte
	DFInvalidated          bool
	PreOpenWriteAccessLevel *AccessLevel

	// File tree: SFI -> EF.
	Files map[byte]*ElementaryFile

	// Current session-buffer budget. Only Backup/Restore copy it; the
	// batcher's budget is seeded from InitialModificationsCounter instead.
	ModificationsCounter int
}

// New creates a CardImage for a freshly selected application.
func New(dfName, serialNumber []byte, product Product) *CardImage {
	return &CardImage{
		DFName:               append([]byte(nil), dfName...),
		SerialNumber:         append([]byte(nil), serialNumber...),
		Product:              product,
		PINAttemptsRemaining: 3,
		Files:                make(map[byte]*ElementaryFile),
	}
}

// EnsureFile returns the EF at sfi, creating it with the given type/record
// size if absent.
func (c *CardImage) EnsureFile(sfi byte, t FileType, recordSize int) *ElementaryFile {
	ef, ok := c.Files[sfi]
	if !ok {
		ef = newElementaryFile(t, recordSize)
		c.Files[sfi] = ef
	}
	return ef
}

// GetFile returns the EF at sfi, or (nil, false) if the card image has
// never seen it. Reads of an unknown SFI are "absent", not an error —
// anticipated-response logic treats absence as AnticipationFailure.
func (c *CardImage) GetFile(sfi byte) (*ElementaryFile, bool) {
	ef, ok := c.Files[sfi]
	return ef, ok
}

// WriteRecord stores data at record n of SFI sfi, creating the EF on
// first write if needed.
func (c *CardImage) WriteRecord(sfi byte, n int, data []byte) {
	ef := c.EnsureFile(sfi, FileLinear, len(data))
	ef.Records[n] = append([]byte(nil), data...)
}

// GetRecord returns record n of SFI sfi.
func (c *CardImage) GetRecord(sfi byte, n int) ([]byte, bool) {
	ef, ok := c.Files[sfi]
	if !ok {
		return nil, false
	}
	rec, ok := ef.Records[n]
	return rec, ok
}

// GetCounter returns counter n of SFI sfi.
func (c *CardImage) GetCounter(sfi byte, n int) (int, bool) {
	ef, ok := c.Files[sfi]
	if !ok {
		return 0, false
	}
	v, ok := ef.Counters[n]
	return v, ok
}

// SetCounter sets counter n of SFI sfi, creating the EF on first write.
func (c *CardImage) SetCounter(sfi byte, n int, value int) {
	ef := c.EnsureFile(sfi, FileCounters, 3)
	ef.Counters[n] = value
}

// GetAllCounters returns a copy of every counter in SFI sfi.
func (c *CardImage) GetAllCounters(sfi byte) map[int]int {
	ef, ok := c.Files[sfi]
	if !ok {
		return nil
	}
	out := make(map[int]int, len(ef.Counters))
	for k, v := range ef.Counters {
		out[k] = v
	}
	return out
}

// WriteBinary stores data at offset in SFI sfi's binary body.
func (c *CardImage) WriteBinary(sfi byte, offset int, data []byte) {
	ef := c.EnsureFile(sfi, FileBinary, 0)
	need := offset + len(data)
	if len(ef.Binary) < need {
		grown := make([]byte, need)
		copy(grown, ef.Binary)
		ef.Binary = grown
	}
	copy(ef.Binary[offset:], data)
}

// ReadBinary returns up to length bytes of SFI sfi's binary body starting
// at offset.
func (c *CardImage) ReadBinary(sfi byte, offset, length int) ([]byte, bool) {
	ef, ok := c.Files[sfi]
	if !ok || offset >= len(ef.Binary) {
		return nil, false
	}
	end := offset + length
	if end > len(ef.Binary) {
		end = len(ef.Binary)
	}
	return ef.Binary[offset:end], true
}

// SetPINAttemptsRemaining enforces invariant I4: pin_attempts_remaining ∈ {0,1,2,3}.
func (c *CardImage) SetPINAttemptsRemaining(n int) error {
	if n < 0 || n > 3 {
		return fmt.Errorf("cardimage: invalid pin attempts remaining %d", n)
	}
	c.PINAttemptsRemaining = n
	return nil
}

// SetSVData records the purse state returned by an SV GET response.
func (c *CardImage) SetSVData(kvc byte, header, data []byte, balance, tnum int) {
	c.SVKVC = kvc
	c.SVGetHeader = append([]byte(nil), header...)
	c.SVGetData = append([]byte(nil), data...)
	c.SVBalance = balance
	c.SVTNum = tnum
	c.SVDataDirty = false
}

// ClearSVData marks the SV purse fields as stale; SvReadAllLogs uses this
// (§9: callers must ProcessCommands again before trusting the balance).
func (c *CardImage) ClearSVData() {
	c.SVGetHeader = nil
	c.SVGetData = nil
	c.SVDataDirty = true
}

// SetCardChallenge records the card challenge returned by GET CHALLENGE or
// OPEN SECURE SESSION.
func (c *CardImage) SetCardChallenge(challenge []byte) {
	c.Challenge = append([]byte(nil), challenge...)
}

// SetPublicKey records a PKI-mode card public key extracted from its
// certificate.
func (c *CardImage) SetPublicKey(key []byte) {
	c.CardPublicKey = append([]byte(nil), key...)
}

// Snapshot is an opaque deep copy of every mutable CardImage field, used to
// restore the image when a session is cancelled or aborted (invariant I3).
type Snapshot struct {
	challenge            []byte
	kif, kvc             byte
	pinAttemptsRemaining int
	svBalance, svTNum    int
	svKVC                byte
	svGetHeader          []byte
	svGetData            []byte
	svOperationSignature []byte
	svDataDirty          bool
	cardPublicKey        []byte
	cardCertificate      []byte
	caCertificate        []byte
	dfInvalidated        bool
	preOpenLevel         *AccessLevel
	files                map[byte]*ElementaryFile
	modificationsCounter int
}

// Backup returns a deep-copy snapshot of every mutable field.
func (c *CardImage) Backup() *Snapshot {
	s := &Snapshot{
		challenge:            append([]byte(nil), c.Challenge...),
		kif:                  c.KIF,
		kvc:                  c.KVC,
		pinAttemptsRemaining: c.PINAttemptsRemaining,
		svBalance:            c.SVBalance,
		svTNum:               c.SVTNum,
		svKVC:                c.SVKVC,
		svGetHeader:          append([]byte(nil), c.SVGetHeader...),
		svGetData:            append([]byte(nil), c.SVGetData...),
		svOperationSignature: append([]byte(nil), c.SVOperationSignature...),
		svDataDirty:          c.SVDataDirty,
		cardPublicKey:        append([]byte(nil), c.CardPublicKey...),
		cardCertificate:      append([]byte(nil), c.CardCertificate...),
		caCertificate:        append([]byte(nil), c.CACertificate...),
		dfInvalidated:        c.DFInvalidated,
		modificationsCounter: c.ModificationsCounter,
	}
	if c.PreOpenWriteAccessLevel != nil {
		lvl := *c.PreOpenWriteAccessLevel
		s.preOpenLevel = &lvl
	}
	s.files = make(map[byte]*ElementaryFile, len(c.Files))
	for sfi, ef := range c.Files {
		s.files[sfi] = ef.deepCopy()
	}
	return s
}

// RestoreFrom reverts every mutation performed since snap was taken.
// Mandatory when a session is cancelled or aborted (invariant I3).
func (c *CardImage) RestoreFrom(snap *Snapshot) {
	c.Challenge = append([]byte(nil), snap.challenge...)
	c.KIF = snap.kif
	c.KVC = snap.kvc
	c.PINAttemptsRemaining = snap.pinAttemptsRemaining
	c.SVBalance = snap.svBalance
	c.SVTNum = snap.svTNum
	c.SVKVC = snap.svKVC
	c.SVGetHeader = append([]byte(nil), snap.svGetHeader...)
	c.SVGetData = append([]byte(nil), snap.svGetData...)
	c.SVOperationSignature = append([]byte(nil), snap.svOperationSignature...)
	c.SVDataDirty = snap.svDataDirty
	c.CardPublicKey = append([]byte(nil), snap.cardPublicKey...)
	c.CardCertificate = append([]byte(nil), snap.cardCertificate...)
	c.CACertificate = append([]byte(nil), snap.caCertificate...)
	c.DFInvalidated = snap.dfInvalidated
	c.ModificationsCounter = snap.modificationsCounter
	if snap.preOpenLevel != nil {
		lvl := *snap.preOpenLevel
		c.PreOpenWriteAccessLevel = &lvl
	} else {
		c.PreOpenWriteAccessLevel = nil
	}
	c.Files = make(map[byte]*ElementaryFile, len(snap.files))
	for sfi, ef := range snap.files {
		c.Files[sfi] = ef.deepCopy()
	}
}
