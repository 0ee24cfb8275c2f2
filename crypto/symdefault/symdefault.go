// Package symdefault provides a self-contained SymmetricProvider good
// enough to exercise the session state machine and the CLI demo without a
// real SAM attached. It is not a production SAM: production deployments
// supply their own crypto.SymmetricProvider backed by actual hardware.
//
// The MAC construction — ISO 9797-1 Algorithm 3 ("retail MAC") over a
// 3DES key split in two — is grounded on the teacher's GlobalPlatform SCP02
// implementation (card/globalplatform_scp02.go: retailMAC, iso7816Pad,
// tripleDESCBCEncrypt), adapted here to Calypso's session MAC role instead
// of SCP02's C-MAC role. Each session MAC is computed over the whole
// digest from a zero ICV; no ICV is chained from one MAC to the next.
package symdefault

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	calycrypto "github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
)

var _ calycrypto.SymmetricProvider = (*Provider)(nil)

// Provider is the default, SAM-less SymmetricProvider.
type Provider struct {
	macKey []byte // 24-byte 3DES key (K1||K2||K3)
	encKey []byte // 24-byte 3DES key used for the demo cipher

	samID []byte

	digest        [][]byte // session MAC digest cache, owned by the session that created us
	callCount     int
	icv           []byte
	encryptionOn  bool
	terminalMAC   []byte
	svCounter     int
}

// New builds a Provider from a 16- or 24-byte MAC key and a 16- or 24-byte
// encryption key, expanding 16-byte keys to 24 bytes the same way the
// teacher's ExpandTo3DESKey does for 2-key 3DES.
func New(macKey, encKey []byte, samID []byte) (*Provider, error) {
	mk, err := expandTo3DESKey(macKey)
	if err != nil {
		return nil, fmt.Errorf("symdefault: mac key: %w", err)
	}
	ek, err := expandTo3DESKey(encKey)
	if err != nil {
		return nil, fmt.Errorf("symdefault: enc key: %w", err)
	}
	return &Provider{
		macKey: mk,
		encKey: ek,
		samID:  append([]byte(nil), samID...),
		icv:    make([]byte, 8),
	}, nil
}

// Reset clears all session-scoped state. InitTerminalSessionMAC calls it
// when a secure session opens; nothing calls it when a session closes or
// is cancelled, so the last session's digest stays until the next open or
// an explicit Reset. The digest cache is held per Provider, not as
// process-wide mutable state.
func (p *Provider) Reset() {
	p.digest = nil
	p.callCount = 0
	p.icv = make([]byte, 8)
	p.encryptionOn = false
	p.terminalMAC = nil
}

func (p *Provider) InitTerminalSecureSessionContext() ([]byte, error) {
	challenge := make([]byte, 8)
	copy(challenge, p.samID)
	challenge[7] = byte(p.svCounter)
	return challenge, nil
}

func (p *Provider) PreInitTerminalSecureSessionContext() error {
	return nil
}

func (p *Provider) Synchronize() error {
	return nil
}

func (p *Provider) InitTerminalSessionMAC(openSessionResponseData []byte, kif, kvc byte) error {
	p.Reset()
	p.digest = append(p.digest, append([]byte(nil), openSessionResponseData...))
	return nil
}

func (p *Provider) UpdateTerminalSessionMAC(in []byte) ([]byte, error) {
	p.digest = append(p.digest, append([]byte(nil), in...))
	p.callCount++

	if !p.encryptionOn {
		return in, nil
	}
	out, err := p.cipherInPlace(in)
	if err != nil {
		return nil, fmt.Errorf("symdefault: cipher: %w", err)
	}
	return out, nil
}

func (p *Provider) ActivateEncryption() error {
	p.encryptionOn = true
	return nil
}

func (p *Provider) DeactivateEncryption() error {
	p.encryptionOn = false
	return nil
}

func (p *Provider) GenerateTerminalSessionMAC() ([]byte, error) {
	return p.retailMACOverDigest()
}

func (p *Provider) FinalizeTerminalSessionMAC() ([]byte, error) {
	mac, err := p.retailMACOverDigest()
	if err != nil {
		return nil, err
	}
	p.terminalMAC = mac
	return mac, nil
}

func (p *Provider) IsCardSessionMACValid(mac []byte) (bool, error) {
	expected, err := p.retailMACOverDigest()
	if err != nil {
		return false, err
	}
	return bytes.Equal(expected, mac), nil
}

func (p *Provider) IsCardSVMACValid(mac []byte) (bool, error) {
	expected, err := retailMAC(p.macKey, make([]byte, 8), flatten(p.digest))
	if err != nil {
		return false, err
	}
	n := len(mac)
	if n > len(expected) {
		n = len(expected)
	}
	return bytes.Equal(expected[:n], mac[:n]), nil
}

func (p *Provider) CipherPINForPresentation(challenge, pin []byte, kif, kvc byte) ([]byte, error) {
	return p.cipherWithChallenge(challenge, pin)
}

func (p *Provider) CipherPINForModification(challenge, currentPIN, newPIN []byte, kif, kvc byte) ([]byte, error) {
	msg := append(append([]byte(nil), currentPIN...), newPIN...)
	return p.cipherWithChallenge(challenge, msg)
}

func (p *Provider) ComputeSVCommandSecurityData(io *calycrypto.SVSecurityData) error {
	io.SAMID = append([]byte(nil), p.samID...)
	io.Challenge = []byte{0x11, 0x22, 0x33}
	p.svCounter++
	io.TNum = []byte{byte(p.svCounter >> 16), byte(p.svCounter >> 8), byte(p.svCounter)}

	msg := flatten([][]byte{io.SAMID, io.Challenge, io.TNum})
	mac, err := retailMAC(p.macKey, make([]byte, 8), msg)
	if err != nil {
		return err
	}
	if io.ExtendedMode {
		ext, err := retailMAC(p.macKey, mac, msg)
		if err != nil {
			return err
		}
		io.MAC = append(mac, ext[:2]...)
	} else {
		io.MAC = mac[:5]
	}
	return nil
}

func (p *Provider) GenerateCipheredCardKey(challenge []byte, issuerKIF, issuerKVC, newKIF, newKVC byte) ([]byte, error) {
	in := append([]byte(nil), challenge...)
	for len(in) < 32 {
		in = append(in, issuerKIF, issuerKVC, newKIF, newKVC)
	}
	in = in[:32]
	out := make([]byte, 32)
	for i := 0; i < 32; i += 8 {
		block, err := desECBEncrypt(p.encKey[:8], in[i:i+8])
		if err != nil {
			return nil, err
		}
		copy(out[i:i+8], block)
	}
	return out, nil
}

func (p *Provider) cipherWithChallenge(challenge, msg []byte) ([]byte, error) {
	padded := iso7816Pad(msg, des.BlockSize)
	iv := make([]byte, 8)
	copy(iv, challenge)
	return tripleDESCBCEncrypt(p.encKey, iv, padded)
}

func (p *Provider) cipherInPlace(in []byte) ([]byte, error) {
	padded := iso7816Pad(in, des.BlockSize)
	enc, err := tripleDESCBCEncrypt(p.encKey, p.icv, padded)
	if err != nil {
		return nil, err
	}
	if len(enc) >= 8 {
		copy(p.icv, enc[len(enc)-8:])
	}
	if len(enc) > len(in) {
		enc = enc[:len(in)]
	}
	return enc, nil
}

func (p *Provider) retailMACOverDigest() ([]byte, error) {
	return retailMAC(p.macKey, make([]byte, 8), flatten(p.digest))
}

func flatten(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// --- 3DES / retail-MAC primitives, grounded on card/globalplatform_scp02.go ---

func expandTo3DESKey(k []byte) ([]byte, error) {
	switch len(k) {
	case 16:
		out := make([]byte, 24)
		copy(out[0:16], k)
		copy(out[16:24], k[0:8])
		return out, nil
	case 24:
		return append([]byte(nil), k...), nil
	default:
		return nil, fmt.Errorf("3DES key must be 16 or 24 bytes, got %d", len(k))
	}
}

func iso7816Pad(in []byte, blockSize int) []byte {
	out := make([]byte, len(in), len(in)+blockSize)
	copy(out, in)
	out = append(out, 0x80)
	for len(out)%blockSize != 0 {
		out = append(out, 0x00)
	}
	return out
}

func tripleDESCBCEncrypt(key24, iv8, data []byte) ([]byte, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("data must be a multiple of 8 bytes, got %d", len(data))
	}
	block, err := des.NewTripleDESCipher(key24)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, 8)
	copy(iv, iv8)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func desECBEncrypt(key8, block8 []byte) ([]byte, error) {
	c, err := des.NewCipher(key8)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8)
	c.Encrypt(out, block8)
	return out, nil
}

func desECBDecrypt(key8, block8 []byte) ([]byte, error) {
	c, err := des.NewCipher(key8)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8)
	c.Decrypt(out, block8)
	return out, nil
}

func xor8(a, b []byte) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// retailMAC computes ISO 9797-1 Algorithm 3 over data using key24's K1/K2
// halves, chaining from icv8.
func retailMAC(key24, icv8, data []byte) ([]byte, error) {
	k1, k2 := key24[0:8], key24[8:16]
	padded := iso7816Pad(data, 8)

	c, err := des.NewCipher(k1)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, 8)
	copy(iv, icv8)
	tmp := make([]byte, 8)
	for i := 0; i < len(padded); i += 8 {
		copy(tmp, xor8(padded[i:i+8], iv))
		c.Encrypt(iv, tmp)
	}

	last, err := desECBDecrypt(k2, iv)
	if err != nil {
		return nil, err
	}
	return desECBEncrypt(k1, last)
}
