package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-keyple/keyple-card-calypso-go/display"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transaction"
)

var closeLevel string

var closeCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Open a secure session and cancel it before closing",
	Long: `Exercises the abort path: opens a session, then cancels it instead of
closing normally, and reports that the card image was rolled back to the
state it had before the session opened.`,
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(closeLevel)
		if err != nil {
			fatal("%v", err)
		}
		reader, err := connectReader()
		if err != nil {
			fatal("connect reader: %v", err)
		}
		defer func() {
			if !keepOpen {
				reader.Close()
			}
		}()

		m, err := buildManager(reader)
		if err != nil {
			fatal("build manager: %v", err)
		}
		if _, err := m.PrepareOpenSecureSession(level); err != nil {
			display.PrintError(err)
			return
		}
		control := transaction.CloseAfter
		if keepOpen {
			control = transaction.KeepOpen
		}
		if err := m.ProcessCommands(control); err != nil {
			display.PrintError(err)
			return
		}
		if _, err := m.PrepareCancelSecureSession(); err != nil {
			display.PrintError(err)
			return
		}
		display.PrintSuccess("session cancelled, card image rolled back")
	},
}

func init() {
	closeCmd.Flags().StringVarP(&closeLevel, "level", "l", "personalization",
		"access level: personalization, load or debit")
}
