package symdefault

import (
	"bytes"
	"testing"

	calycrypto "github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(bytes.Repeat([]byte{0x11}, 16), bytes.Repeat([]byte{0x22}, 16), []byte{0xAA, 0xBB, 0xCC, 0xDD})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestMACChainDeterministic(t *testing.T) {
	p := newTestProvider(t)
	if err := p.InitTerminalSessionMAC([]byte{0x21, 0x79, 0xAA, 0xBB}, 0x21, 0x79); err != nil {
		t.Fatalf("InitTerminalSessionMAC() error = %v", err)
	}
	if _, err := p.UpdateTerminalSessionMAC([]byte{0x00, 0xB2, 0x01, 0x1C}); err != nil {
		t.Fatalf("UpdateTerminalSessionMAC() error = %v", err)
	}
	if _, err := p.UpdateTerminalSessionMAC(bytes.Repeat([]byte{0xAB}, 16)); err != nil {
		t.Fatalf("UpdateTerminalSessionMAC() error = %v", err)
	}

	mac1, err := p.FinalizeTerminalSessionMAC()
	if err != nil {
		t.Fatalf("FinalizeTerminalSessionMAC() error = %v", err)
	}
	if len(mac1) != 8 {
		t.Fatalf("terminal mac length = %d, want 8", len(mac1))
	}

	ok, err := p.IsCardSessionMACValid(mac1)
	if err != nil {
		t.Fatalf("IsCardSessionMACValid() error = %v", err)
	}
	if !ok {
		t.Errorf("IsCardSessionMACValid() = false, want true for a self-consistent chain")
	}
}

func TestResetClearsDigestCache(t *testing.T) {
	p := newTestProvider(t)
	_ = p.InitTerminalSessionMAC([]byte{0x01}, 0x21, 0x79)
	_, _ = p.UpdateTerminalSessionMAC([]byte{0x02})
	mac1, _ := p.FinalizeTerminalSessionMAC()

	p.Reset()
	_ = p.InitTerminalSessionMAC([]byte{0x01}, 0x21, 0x79)
	mac2, _ := p.FinalizeTerminalSessionMAC()

	if bytes.Equal(mac1, mac2) {
		t.Errorf("expected different MAC after reset with fewer absorbed bytes")
	}
}

func TestComputeSVCommandSecurityData(t *testing.T) {
	p := newTestProvider(t)
	io := &calycrypto.SVSecurityData{ExtendedMode: false}
	if err := p.ComputeSVCommandSecurityData(io); err != nil {
		t.Fatalf("ComputeSVCommandSecurityData() error = %v", err)
	}
	if len(io.SAMID) != 4 {
		t.Errorf("SAMID length = %d, want 4", len(io.SAMID))
	}
	if len(io.TNum) != 3 {
		t.Errorf("TNum length = %d, want 3", len(io.TNum))
	}
	if len(io.MAC) != 5 {
		t.Errorf("MAC length = %d, want 5 for non-extended mode", len(io.MAC))
	}

	io2 := &calycrypto.SVSecurityData{ExtendedMode: true}
	if err := p.ComputeSVCommandSecurityData(io2); err != nil {
		t.Fatalf("ComputeSVCommandSecurityData() error = %v", err)
	}
	if len(io2.MAC) != 10 {
		t.Errorf("MAC length = %d, want 10 for extended mode", len(io2.MAC))
	}
}

func TestCipherPINForPresentation(t *testing.T) {
	p := newTestProvider(t)
	challenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ciphered, err := p.CipherPINForPresentation(challenge, []byte{0x31, 0x32, 0x33, 0x34}, 0x21, 0x79)
	if err != nil {
		t.Fatalf("CipherPINForPresentation() error = %v", err)
	}
	if len(ciphered) == 0 || len(ciphered)%8 != 0 {
		t.Errorf("ciphered pin length = %d, want multiple of 8", len(ciphered))
	}
}
