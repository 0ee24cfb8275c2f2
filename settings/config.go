package settings

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

// fileConfig is the YAML-shaped settings document. It uses hex-string
// fields rather than raw bytes so settings files stay human-editable,
// the same convention the reference config package uses for key material.
type fileConfig struct {
	SessionKeys []keyPairConfig `yaml:"authorized_session_keys"`
	SVKeys      []keyPairConfig `yaml:"authorized_sv_keys"`

	KIFMap        []kifMapEntry `yaml:"kif_map"`
	DefaultKIFMap []levelByte   `yaml:"default_kif_map"`
	DefaultKVCMap []levelByte   `yaml:"default_kvc_map"`

	PINVerificationKIF *string `yaml:"pin_verification_kif"`
	PINVerificationKVC *string `yaml:"pin_verification_kvc"`
	PINModificationKIF *string `yaml:"pin_modification_kif"`
	PINModificationKVC *string `yaml:"pin_modification_kvc"`

	MultipleSessionEnabled       *bool `yaml:"multiple_session_enabled"`
	RatificationMechanismEnabled *bool `yaml:"ratification_mechanism_enabled"`
	PINPlainTransmissionEnabled  *bool `yaml:"pin_plain_transmission_enabled"`
	SVLoadAndDebitLogEnabled     *bool `yaml:"sv_load_and_debit_log_enabled"`
	SVNegativeBalanceAuthorized  *bool `yaml:"sv_negative_balance_authorized"`
	ReadOnSessionOpeningDisabled *bool `yaml:"read_on_session_opening_disabled"`
}

type keyPairConfig struct {
	KIF string `yaml:"kif"`
	KVC string `yaml:"kvc"`
}

type kifMapEntry struct {
	Level string `yaml:"level"`
	KVC   string `yaml:"kvc"`
	KIF   string `yaml:"kif"`
}

type levelByte struct {
	Level string `yaml:"level"`
	Value string `yaml:"value"`
}

// Load reads a Settings from a YAML file. Unknown fields are rejected so a
// typo in a settings file fails loudly instead of silently applying defaults.
func Load(path string) (*Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return Parse(content)
}

// Parse decodes raw YAML bytes into a Settings.
func Parse(content []byte) (*Settings, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("settings: parse yaml: %w", err)
	}

	s := New()

	for _, kp := range fc.SessionKeys {
		kif, err := parseHexByte(kp.KIF, "authorized_session_keys.kif")
		if err != nil {
			return nil, err
		}
		kvc, err := parseHexByte(kp.KVC, "authorized_session_keys.kvc")
		if err != nil {
			return nil, err
		}
		s.AuthorizeSessionKey(kif, kvc)
	}

	for _, kp := range fc.SVKeys {
		kif, err := parseHexByte(kp.KIF, "authorized_sv_keys.kif")
		if err != nil {
			return nil, err
		}
		kvc, err := parseHexByte(kp.KVC, "authorized_sv_keys.kvc")
		if err != nil {
			return nil, err
		}
		s.AuthorizeSVKey(kif, kvc)
	}

	for _, e := range fc.KIFMap {
		level, err := parseLevel(e.Level)
		if err != nil {
			return nil, err
		}
		kvc, err := parseHexByte(e.KVC, "kif_map.kvc")
		if err != nil {
			return nil, err
		}
		kif, err := parseHexByte(e.KIF, "kif_map.kif")
		if err != nil {
			return nil, err
		}
		s.SetKIF(level, kvc, kif)
	}

	for _, e := range fc.DefaultKIFMap {
		level, err := parseLevel(e.Level)
		if err != nil {
			return nil, err
		}
		v, err := parseHexByte(e.Value, "default_kif_map.value")
		if err != nil {
			return nil, err
		}
		s.SetDefaultKIF(level, v)
	}

	for _, e := range fc.DefaultKVCMap {
		level, err := parseLevel(e.Level)
		if err != nil {
			return nil, err
		}
		v, err := parseHexByte(e.Value, "default_kvc_map.value")
		if err != nil {
			return nil, err
		}
		s.SetDefaultKVC(level, v)
	}

	if fc.PINVerificationKIF != nil {
		v, err := parseHexByte(*fc.PINVerificationKIF, "pin_verification_kif")
		if err != nil {
			return nil, err
		}
		s.PINVerificationKIF = v
	}
	if fc.PINVerificationKVC != nil {
		v, err := parseHexByte(*fc.PINVerificationKVC, "pin_verification_kvc")
		if err != nil {
			return nil, err
		}
		s.PINVerificationKVC = v
	}
	if fc.PINModificationKIF != nil {
		v, err := parseHexByte(*fc.PINModificationKIF, "pin_modification_kif")
		if err != nil {
			return nil, err
		}
		s.PINModificationKIF = v
	}
	if fc.PINModificationKVC != nil {
		v, err := parseHexByte(*fc.PINModificationKVC, "pin_modification_kvc")
		if err != nil {
			return nil, err
		}
		s.PINModificationKVC = v
	}

	if fc.MultipleSessionEnabled != nil {
		s.MultipleSessionEnabled = *fc.MultipleSessionEnabled
	}
	if fc.RatificationMechanismEnabled != nil {
		s.RatificationMechanismEnabled = *fc.RatificationMechanismEnabled
	}
	if fc.PINPlainTransmissionEnabled != nil {
		s.PINPlainTransmissionEnabled = *fc.PINPlainTransmissionEnabled
	}
	if fc.SVLoadAndDebitLogEnabled != nil {
		s.SVLoadAndDebitLogEnabled = *fc.SVLoadAndDebitLogEnabled
	}
	if fc.SVNegativeBalanceAuthorized != nil {
		s.SVNegativeBalanceAuthorized = *fc.SVNegativeBalanceAuthorized
	}
	if fc.ReadOnSessionOpeningDisabled != nil {
		s.ReadOnSessionOpeningDisabled = *fc.ReadOnSessionOpeningDisabled
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseHexByte(s, field string) (byte, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%02x", &v); err != nil {
		return 0, fmt.Errorf("settings: %s: invalid hex byte %q: %w", field, s, err)
	}
	if v < 0 || v > 0xFF {
		return 0, fmt.Errorf("settings: %s: %q out of byte range", field, s)
	}
	return byte(v), nil
}

func parseLevel(s string) (cardimage.AccessLevel, error) {
	switch s {
	case "personalization":
		return cardimage.AccessPersonalization, nil
	case "load":
		return cardimage.AccessLoad, nil
	case "debit":
		return cardimage.AccessDebit, nil
	default:
		return 0, fmt.Errorf("settings: unknown access level %q", s)
	}
}
