package session

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto"
)

// verifyCertificateChain checks the card certificate against the CA
// (issuer) certificate: each is parsed by the registered parser for its
// type byte, the CA certificate is checked by the asymmetric provider with
// no parent certificate (no PCA certificate is looked up), and the card's
// public key is recovered from the card certificate's check against the CA
// certificate. A missing certificate or parser, or a failed check, raises
// InvalidCertificate.
func verifyCertificateChain(asym crypto.AsymmetricProvider, reg crypto.CertParserRegistry, img *cardimage.CardImage) error {
	if len(img.CardCertificate) == 0 {
		return calypsoerr.New(calypsoerr.InvalidCertificate, "card did not return a certificate")
	}
	if len(img.CACertificate) == 0 {
		return calypsoerr.New(calypsoerr.InvalidCertificate, "no CA certificate available for chain verification")
	}

	cardParser, ok := reg.GetCardCertificateParser(img.CardCertificate[0])
	if !ok {
		return calypsoerr.Newf(calypsoerr.InvalidCertificate, "no card certificate parser registered for type %02X", img.CardCertificate[0])
	}
	caParser, ok := reg.GetCACertificateParser(img.CACertificate[0])
	if !ok {
		return calypsoerr.Newf(calypsoerr.InvalidCertificate, "no CA certificate parser registered for type %02X", img.CACertificate[0])
	}

	cardCert, err := cardParser.Parse(img.CardCertificate)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.InvalidCertificate, "parse card certificate", err)
	}
	caCert, err := caParser.Parse(img.CACertificate)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.InvalidCertificate, "parse CA certificate", err)
	}

	if _, err := asym.CheckCertificateAndGetContent(caCert, nil); err != nil {
		return calypsoerr.Wrap(calypsoerr.InvalidCertificate, "CA certificate check failed", err)
	}
	pubKey, err := asym.CheckCertificateAndGetPublicKey(cardCert, caCert, img.SerialNumber)
	if err != nil {
		return calypsoerr.Wrap(calypsoerr.InvalidCertificate, "card certificate failed against CA", err)
	}

	img.CardPublicKey = append([]byte(nil), pubKey...)
	return nil
}
