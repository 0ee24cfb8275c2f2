package settings

import (
	"testing"

	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

func TestComputeKVC(t *testing.T) {
	s := New().SetDefaultKVC(cardimage.AccessPersonalization, 0x79)

	cardKVC := byte(0x21)
	if kvc, ok := s.ComputeKVC(cardimage.AccessPersonalization, &cardKVC); !ok || kvc != 0x21 {
		t.Errorf("ComputeKVC() = (%02X, %v), want (21, true)", kvc, ok)
	}
	if kvc, ok := s.ComputeKVC(cardimage.AccessPersonalization, nil); !ok || kvc != 0x79 {
		t.Errorf("ComputeKVC() default = (%02X, %v), want (79, true)", kvc, ok)
	}
	if _, ok := s.ComputeKVC(cardimage.AccessLoad, nil); ok {
		t.Errorf("ComputeKVC() should fail for a level with no default")
	}
}

func TestComputeKIF(t *testing.T) {
	s := New().
		SetKIF(cardimage.AccessLoad, 0x79, 0x27).
		SetDefaultKIF(cardimage.AccessLoad, 0x30)

	if kif, ok := s.ComputeKIF(cardimage.AccessLoad, 0x10, nil); !ok || kif != 0x10 {
		t.Errorf("ComputeKIF() non-FF card kif = (%02X, %v), want (10, true)", kif, ok)
	}

	kvc := byte(0x79)
	if kif, ok := s.ComputeKIF(cardimage.AccessLoad, 0xFF, &kvc); !ok || kif != 0x27 {
		t.Errorf("ComputeKIF() mapped = (%02X, %v), want (27, true)", kif, ok)
	}

	unmapped := byte(0x99)
	if kif, ok := s.ComputeKIF(cardimage.AccessLoad, 0xFF, &unmapped); !ok || kif != 0x30 {
		t.Errorf("ComputeKIF() fallback to default = (%02X, %v), want (30, true)", kif, ok)
	}

	if _, ok := s.ComputeKIF(cardimage.AccessLoad, 0xFF, nil); ok {
		t.Errorf("ComputeKIF() with unknown kvc and no card kif should fail")
	}
}

func TestAuthorization(t *testing.T) {
	s := New().AuthorizeSessionKey(0x21, 0x79).AuthorizeSVKey(0x27, 0x79)

	if !s.IsSessionKeyAuthorized(0x21, 0x79) {
		t.Errorf("expected session key 21/79 to be authorized")
	}
	if s.IsSessionKeyAuthorized(0x21, 0x7A) {
		t.Errorf("did not expect session key 21/7A to be authorized")
	}
	if !s.IsSVKeyAuthorized(0x27, 0x79) {
		t.Errorf("expected sv key 27/79 to be authorized")
	}
}

func TestValidate(t *testing.T) {
	if err := New().Validate(); err == nil {
		t.Errorf("expected Validate() to fail with no authorized session keys")
	}
	s := New().AuthorizeSessionKey(0x21, 0x79)
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
