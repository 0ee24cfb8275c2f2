// Package main implements calypsocli, a demo command-line client for the
// transaction manager. Structured after the teacher's cmd/root.go: one
// persistent-flag root command plus a verb per transaction-manager
// operation (readers, open, cancel, read-record, sv-get, sv-reload,
// sv-debit, verify-pin).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	readerIndex  int
	settingsPath string
	keepOpen     bool
)

var rootCmd = &cobra.Command{
	Use:     "calypsocli",
	Short:   "Calypso secure-session transaction client",
	Version: version,
	Long: `calypsocli v` + version + `

A demo client over the transaction manager: open a secure session,
read/write files, run stored-value operations, and close — each verb
maps directly onto one or more Manager.PrepareXxx calls followed by a
ProcessCommands round.`,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&readerIndex, "reader", "r", -1,
		"PC/SC reader index (use 'calypsocli readers' to list)")
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "",
		"path to a settings YAML file (see settings.Load)")
	rootCmd.PersistentFlags().BoolVar(&keepOpen, "keep-channel-open", false,
		"leave the physical channel open after processCommands")
	rootCmd.PersistentFlags().StringVar(&macKeyHex, "mac-key", "", "SAM session MAC key (hex, demo only)")
	rootCmd.PersistentFlags().StringVar(&encKeyHex, "enc-key", "", "SAM session encryption key (hex, demo only)")
	rootCmd.PersistentFlags().StringVar(&samIDHex, "sam-id", "00000000", "SAM identifier (4-byte hex)")
	rootCmd.PersistentFlags().StringVar(&cardProduct, "product", "prime-rev3", "card product: prime-rev3 or light")
	rootCmd.PersistentFlags().BoolVar(&contactless, "contactless", false, "run the session in contactless mode (enables ratification)")

	rootCmd.AddCommand(readersCmd, openCmd, closeCmd, readRecordCmd, svGetCmd, svReloadCmd, svDebitCmd, verifyPinCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "calypsocli: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	Execute()
}
