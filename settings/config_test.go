package settings

import "testing"

const sampleYAML = `
authorized_session_keys:
  - kif: "21"
    kvc: "79"
authorized_sv_keys:
  - kif: "27"
    kvc: "79"
kif_map:
  - level: load
    kvc: "79"
    kif: "27"
default_kif_map:
  - level: debit
    value: "30"
default_kvc_map:
  - level: debit
    value: "79"
pin_verification_kif: "21"
pin_verification_kvc: "79"
multiple_session_enabled: true
sv_negative_balance_authorized: false
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !s.IsSessionKeyAuthorized(0x21, 0x79) {
		t.Errorf("expected session key 21/79 authorized")
	}
	if !s.IsSVKeyAuthorized(0x27, 0x79) {
		t.Errorf("expected sv key 27/79 authorized")
	}
	if s.PINVerificationKIF != 0x21 || s.PINVerificationKVC != 0x79 {
		t.Errorf("pin verification key = %02X/%02X, want 21/79", s.PINVerificationKIF, s.PINVerificationKVC)
	}
	if !s.MultipleSessionEnabled {
		t.Errorf("expected MultipleSessionEnabled = true")
	}
	if s.SVNegativeBalanceAuthorized {
		t.Errorf("expected SVNegativeBalanceAuthorized = false")
	}
}

func TestParseUnknownField(t *testing.T) {
	if _, err := Parse([]byte("bogus_field: 1\n")); err == nil {
		t.Errorf("expected error for unknown field")
	}
}

func TestParseMissingAuthorizedKeys(t *testing.T) {
	if _, err := Parse([]byte("multiple_session_enabled: true\n")); err == nil {
		t.Errorf("expected Validate() failure with no authorized session keys")
	}
}
