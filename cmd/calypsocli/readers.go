package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-keyple/keyple-card-calypso-go/display"
	"github.com/eclipse-keyple/keyple-card-calypso-go/transport/pcsc"
)

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List available PC/SC readers",
	Run: func(cmd *cobra.Command, args []string) {
		names, err := pcsc.ListReaders()
		if err != nil {
			fatal("list readers: %v", err)
		}
		display.PrintReaderList(names)
	},
}
