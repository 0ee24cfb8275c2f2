package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
	"github.com/eclipse-keyple/keyple-card-calypso-go/display"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transaction"
)

var svGetLevel string

var svGetCmd = &cobra.Command{
	Use:   "sv-get",
	Short: "Open a session, read the stored-value balance, close",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(svGetLevel)
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
		if _, err := m.PrepareSvGet(command.SVOperationReload, false); err != nil {
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
		display.PrintSVBalance(m.Image.SVBalance, m.Image.SVGetHeader, m.Image.SVGetData)
	},
}

var (
	svReloadLevel  string
	svReloadAmount int
)

var svReloadCmd = &cobra.Command{
	Use:   "sv-reload",
	Short: "Open a session, credit the stored-value purse, close",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(svReloadLevel)
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
		if _, err := m.PrepareSvGet(command.SVOperationReload, false); err != nil {
			display.PrintError(err)
			return
		}
		if _, err := m.PrepareSvReload(svReloadAmount, nil, nil); err != nil {
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
		display.PrintSuccess("stored value reloaded")
		display.PrintSVBalance(m.Image.SVBalance, m.Image.SVGetHeader, m.Image.SVGetData)
	},
}

var (
	svDebitLevel  string
	svDebitAmount int
)

var svDebitCmd = &cobra.Command{
	Use:   "sv-debit",
	Short: "Open a session, debit the stored-value purse, close",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(svDebitLevel)
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
		if _, err := m.PrepareSvGet(command.SVOperationDebit, false); err != nil {
			display.PrintError(err)
			return
		}
		if _, err := m.PrepareSvDebit(svDebitAmount, command.SVActionDo, nil, nil); err != nil {
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
		display.PrintSuccess("stored value debited")
		display.PrintSVBalance(m.Image.SVBalance, m.Image.SVGetHeader, m.Image.SVGetData)
	},
}

func init() {
	svGetCmd.Flags().StringVarP(&svGetLevel, "level", "l", "debit",
		"access level: personalization, load or debit")

	svReloadCmd.Flags().StringVarP(&svReloadLevel, "level", "l", "load",
		"access level: personalization, load or debit")
	svReloadCmd.Flags().IntVarP(&svReloadAmount, "amount", "a", 0, "amount to credit")

	svDebitCmd.Flags().StringVarP(&svDebitLevel, "level", "l", "debit",
		"access level: personalization, load or debit")
	svDebitCmd.Flags().IntVarP(&svDebitAmount, "amount", "a", 0, "amount to debit")
}
