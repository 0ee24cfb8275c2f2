package main

import (
	"fmt"

	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

func parseAccessLevel(s string) (cardimage.AccessLevel, error) {
	switch s {
	case "personalization", "perso":
		return cardimage.AccessPersonalization, nil
	case "load":
		return cardimage.AccessLoad, nil
	case "debit":
		return cardimage.AccessDebit, nil
	default:
		return 0, fmt.Errorf("unknown access level %q (want personalization, load or debit)", s)
	}
}
