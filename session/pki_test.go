package session

import (
	"testing"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
)

type fakeParsedCert struct {
	typeByte byte
	raw      []byte
}

func (f fakeParsedCert) TypeByte() byte { return f.typeByte }
func (f fakeParsedCert) Raw() []byte    { return f.raw }

type fakeCertParser struct{}

func (fakeCertParser) Parse(raw []byte) (crypto.ParsedCertificate, error) {
	return fakeParsedCert{typeByte: raw[0], raw: raw}, nil
}

type fakeRegistry struct {
	cardOK bool
	caOK   bool
}

func (r fakeRegistry) GetCardCertificateParser(byte) (crypto.CertParser, bool) {
	return fakeCertParser{}, r.cardOK
}

func (r fakeRegistry) GetCACertificateParser(byte) (crypto.CertParser, bool) {
	return fakeCertParser{}, r.caOK
}

type fakeAsym struct {
	failCA   bool
	failCard bool
	pubKey   []byte
}

func (fakeAsym) CreateCardTransactionManager() (crypto.CardTransactionHandle, error) {
	return nil, nil
}

func (a fakeAsym) CheckCertificateAndGetContent(cert, parent crypto.ParsedCertificate) ([]byte, error) {
	if a.failCA {
		return nil, errNew("ca check failed")
	}
	return cert.Raw(), nil
}

func (a fakeAsym) CheckCertificateAndGetPublicKey(cert, parent crypto.ParsedCertificate, cardIdentifier []byte) ([]byte, error) {
	if a.failCard {
		return nil, errNew("card check failed")
	}
	return a.pubKey, nil
}

func newImageWithCerts() *cardimage.CardImage {
	img := cardimage.New([]byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}, cardimage.ProductPrimeRev3)
	img.CardCertificate = []byte{0x01, 0xAA, 0xBB}
	img.CACertificate = []byte{0x01, 0xCC, 0xDD}
	return img
}

func TestVerifyCertificateChainSuccess(t *testing.T) {
	img := newImageWithCerts()
	asym := fakeAsym{pubKey: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	reg := fakeRegistry{cardOK: true, caOK: true}

	if err := verifyCertificateChain(asym, reg, img); err != nil {
		t.Fatalf("verifyCertificateChain() error = %v", err)
	}
	if string(img.CardPublicKey) != string(asym.pubKey) {
		t.Fatalf("CardPublicKey = %X, want %X", img.CardPublicKey, asym.pubKey)
	}
}

func TestVerifyCertificateChainMissingCardCertificate(t *testing.T) {
	img := cardimage.New([]byte{1}, []byte{1}, cardimage.ProductPrimeRev3)
	err := verifyCertificateChain(fakeAsym{}, fakeRegistry{cardOK: true, caOK: true}, img)
	if !calypsoerr.Is(err, calypsoerr.InvalidCertificate) {
		t.Fatalf("err = %v, want InvalidCertificate", err)
	}
}

func TestVerifyCertificateChainNoCAParser(t *testing.T) {
	img := newImageWithCerts()
	err := verifyCertificateChain(fakeAsym{}, fakeRegistry{cardOK: true, caOK: false}, img)
	if !calypsoerr.Is(err, calypsoerr.InvalidCertificate) {
		t.Fatalf("err = %v, want InvalidCertificate", err)
	}
}

func TestVerifyCertificateChainCardCheckFails(t *testing.T) {
	img := newImageWithCerts()
	asym := fakeAsym{failCard: true}
	err := verifyCertificateChain(asym, fakeRegistry{cardOK: true, caOK: true}, img)
	if !calypsoerr.Is(err, calypsoerr.InvalidCertificate) {
		t.Fatalf("err = %v, want InvalidCertificate", err)
	}
}
