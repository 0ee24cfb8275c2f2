package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-keyple/keyple-card-calypso-go/display"
	"github.com/eclipse-keyple/keyple-card-calypso-go/session"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transaction"
)

var openLevel string

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a secure session at the given level and close it normally",
	Long: `A process is a single invocation, so calypsocli cannot hold a session
open across separate commands the way an in-process application would.
"open" runs the whole round trip in one shot: connect, open the session,
close it, and report whether the card ratified it — useful for checking
that a session key is authorized and the card answers OPEN_SECURE_SESSION
correctly.`,
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(openLevel)
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
		if _, err := m.PrepareCloseSecureSession(); err != nil {
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
		display.PrintSessionSummary(display.SessionSummary{
			AccessLevel: openLevel,
			Ratified:    m.Session.State() == session.StateClosed,
		})
		display.PrintSuccess("session opened and closed cleanly")
	},
}

func init() {
	openCmd.Flags().StringVarP(&openLevel, "level", "l", "personalization",
		"access level: personalization, load or debit")
}
