package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eclipse-keyple/keyple-card-calypso-go/display"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transaction"
)

// readPIN reads a 4-digit PIN from the terminal in raw mode, echoing an
// asterisk per digit instead of the digit itself.
func readPIN(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	var pin []byte
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			fmt.Print("\r\n")
			return nil, fmt.Errorf("read pin: %w", err)
		}
		switch buf[0] {
		case 0x0D, 0x0A:
			fmt.Print("\r\n")
			return pin, nil
		case 0x03:
			term.Restore(fd, oldState)
			fmt.Print("\r\n")
			os.Exit(130)
		case 0x7F, 0x08:
			if len(pin) > 0 {
				pin = pin[:len(pin)-1]
				fmt.Print("\b \b")
			}
		default:
			if buf[0] >= '0' && buf[0] <= '9' && len(pin) < 4 {
				pin = append(pin, buf[0])
				fmt.Print("*")
			}
		}
	}
}

var (
	verifyPinLevel string
	verifyPinValue string
)

var verifyPinCmd = &cobra.Command{
	Use:   "verify-pin",
	Short: "Open a session, verify the cardholder PIN, close",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(verifyPinLevel)
		if err != nil {
			fatal("%v", err)
		}

		pin := []byte(verifyPinValue)
		if len(pin) == 0 {
			pin, err = readPIN("PIN: ")
			if err != nil {
				fatal("%v", err)
			}
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
		if _, err := m.PrepareVerifyPin(pin); err != nil {
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
		display.PrintSuccess("pin verified")
	},
}

func init() {
	verifyPinCmd.Flags().StringVarP(&verifyPinLevel, "level", "l", "personalization",
		"access level: personalization, load or debit")
	verifyPinCmd.Flags().StringVar(&verifyPinValue, "pin", "", "4-digit PIN (prompted securely if omitted)")
}
