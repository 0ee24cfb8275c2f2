// Package settings holds the security policy configuration a
// TransactionManager is built with: authorized KIF/KVC tables, PIN/SV
// policy flags, and the certificate parser registry. Settings are
// immutable after construction and may be shared and read by multiple
// managers (spec §5).
package settings

import (
	"fmt"

	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
)

// KeyRef identifies a SAM key by KIF/KVC pair.
type KeyRef struct {
	KIF, KVC byte
}

type levelKVC struct {
	Level cardimage.AccessLevel
	KVC   byte
}

// Settings is the C5 configuration bag.
type Settings struct {
	AuthorizedSessionKeys map[KeyRef]bool
	AuthorizedSVKeys      map[KeyRef]bool

	kifMap        map[levelKVC]byte
	defaultKIFMap map[cardimage.AccessLevel]byte
	defaultKVCMap map[cardimage.AccessLevel]byte

	PINVerificationKIF, PINVerificationKVC byte
	PINModificationKIF, PINModificationKVC byte

	MultipleSessionEnabled        bool
	RatificationMechanismEnabled  bool
	PINPlainTransmissionEnabled   bool
	SVLoadAndDebitLogEnabled      bool
	SVNegativeBalanceAuthorized   bool
	ReadOnSessionOpeningDisabled  bool

	CertParsers crypto.CertParserRegistry
}

// New returns an empty Settings with its maps allocated, ready for the
// chained AuthorizeSessionKey/AuthorizeSVKey/SetKIF/SetDefault* setters.
func New() *Settings {
	return &Settings{
		AuthorizedSessionKeys: make(map[KeyRef]bool),
		AuthorizedSVKeys:      make(map[KeyRef]bool),
		kifMap:                make(map[levelKVC]byte),
		defaultKIFMap:         make(map[cardimage.AccessLevel]byte),
		defaultKVCMap:         make(map[cardimage.AccessLevel]byte),
	}
}

func (s *Settings) AuthorizeSessionKey(kif, kvc byte) *Settings {
	s.AuthorizedSessionKeys[KeyRef{kif, kvc}] = true
	return s
}

func (s *Settings) AuthorizeSVKey(kif, kvc byte) *Settings {
	s.AuthorizedSVKeys[KeyRef{kif, kvc}] = true
	return s
}

func (s *Settings) SetKIF(level cardimage.AccessLevel, kvc, kif byte) *Settings {
	s.kifMap[levelKVC{level, kvc}] = kif
	return s
}

func (s *Settings) SetDefaultKIF(level cardimage.AccessLevel, kif byte) *Settings {
	s.defaultKIFMap[level] = kif
	return s
}

func (s *Settings) SetDefaultKVC(level cardimage.AccessLevel, kvc byte) *Settings {
	s.defaultKVCMap[level] = kvc
	return s
}

// ComputeKVC implements compute_kvc(level, card_kvc) = card_kvc ?? default_kvc_map[level].
func (s *Settings) ComputeKVC(level cardimage.AccessLevel, cardKVC *byte) (byte, bool) {
	if cardKVC != nil {
		return *cardKVC, true
	}
	kvc, ok := s.defaultKVCMap[level]
	return kvc, ok
}

// ComputeKIF implements rule CL-KEY-KIF.1/KIFUNK.1:
//
//	if card_kif != 0xFF then card_kif
//	else if kvc is null then null
//	else kif_map[(level, kvc)] ?? default_kif_map[level]
func (s *Settings) ComputeKIF(level cardimage.AccessLevel, cardKIF byte, kvc *byte) (byte, bool) {
	if cardKIF != 0xFF {
		return cardKIF, true
	}
	if kvc == nil {
		return 0, false
	}
	if kif, ok := s.kifMap[levelKVC{level, *kvc}]; ok {
		return kif, true
	}
	kif, ok := s.defaultKIFMap[level]
	return kif, ok
}

func (s *Settings) IsSessionKeyAuthorized(kif, kvc byte) bool {
	return s.AuthorizedSessionKeys[KeyRef{kif, kvc}]
}

func (s *Settings) IsSVKeyAuthorized(kif, kvc byte) bool {
	return s.AuthorizedSVKeys[KeyRef{kif, kvc}]
}

// Validate reports an error when no session key is authorized; no other
// settings combination is checked.
func (s *Settings) Validate() error {
	if len(s.AuthorizedSessionKeys) == 0 {
		return fmt.Errorf("settings: no authorized session keys configured")
	}
	return nil
}
