package main

import (
	"encoding/hex"
	"fmt"

	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
	"github.com/eclipse-keyple/keyple-card-calypso-go/crypto/symdefault"
	"github.com/eclipse-keyple/keyple-card-calypso-go/session"
	"github.com/eclipse-keyple/keyple-card-calypso-go/settings"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transaction"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transport"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transport/pcsc"
)

var (
	macKeyHex, encKeyHex, samIDHex string
	cardProduct                    string
	contactless                    bool
)

func connectReader() (*pcsc.Reader, error) {
	if readerIndex < 0 {
		return pcsc.ConnectFirst()
	}
	return pcsc.Connect(readerIndex)
}

func parseHex(s, field string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return b, nil
}

func buildManager(reader *pcsc.Reader) (*transaction.Manager, error) {
	var st *settings.Settings
	if settingsPath != "" {
		loaded, err := settings.Load(settingsPath)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		st = loaded
	} else {
		st = settings.New()
	}

	macKey, err := parseHex(macKeyHex, "mac-key")
	if err != nil {
		return nil, err
	}
	encKey, err := parseHex(encKeyHex, "enc-key")
	if err != nil {
		return nil, err
	}
	samID, err := parseHex(samIDHex, "sam-id")
	if err != nil {
		return nil, err
	}
	cp, err := symdefault.New(macKey, encKey, samID)
	if err != nil {
		return nil, fmt.Errorf("build crypto provider: %w", err)
	}

	link := transport.NewCardLink(reader, nil)
	eng := session.New(link, cp, contactless, st.RatificationMechanismEnabled, nil)

	product := cardimage.ProductPrimeRev3
	if cardProduct == "light" {
		product = cardimage.ProductLight
	}
	img := cardimage.New(reader.ATR(), reader.ATR(), product)
	img.PayloadCapacity = 128
	img.ExtendedModeSupported = true
	img.PINFeature = true
	img.SVFeature = true

	return transaction.New(img, st, cp, eng, nil), nil
}
