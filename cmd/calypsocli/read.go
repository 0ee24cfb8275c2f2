package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-keyple/keyple-card-calypso-go/display"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transaction"
)

var (
	readLevel string
	readSFI   uint8
	readFrom  int
	readTo    int
	readRecSz int
)

var readRecordCmd = &cobra.Command{
	Use:   "read-record",
	Short: "Open a session, read one or more records, close",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := parseAccessLevel(readLevel)
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
		if readTo > readFrom {
			if _, err := m.PrepareReadRecords(readSFI, readFrom, readTo, readRecSz); err != nil {
				display.PrintError(err)
				return
			}
		} else {
			if _, err := m.PrepareReadRecord(readSFI, readFrom); err != nil {
				display.PrintError(err)
				return
			}
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

		records := map[int][]byte{}
		if to := readTo; to > readFrom {
			for n := readFrom; n <= to; n++ {
				if data, ok := m.Image.GetRecord(readSFI, n); ok {
					records[n] = data
				}
			}
		} else if data, ok := m.Image.GetRecord(readSFI, readFrom); ok {
			records[readFrom] = data
		}
		display.PrintRecords(readSFI, records)
	},
}

func init() {
	readRecordCmd.Flags().StringVarP(&readLevel, "level", "l", "personalization",
		"access level: personalization, load or debit")
	readRecordCmd.Flags().Uint8VarP(&readSFI, "sfi", "f", 0, "file SFI")
	readRecordCmd.Flags().IntVar(&readFrom, "record", 1, "record number (or first record of a range)")
	readRecordCmd.Flags().IntVar(&readTo, "to", 0, "last record of a range (0 disables ranged read)")
	readRecordCmd.Flags().IntVar(&readRecSz, "record-size", 29, "record size in bytes, used for ranged reads")
}
