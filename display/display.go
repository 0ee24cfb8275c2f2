// Package display renders transaction-manager results as terminal
// tables, grounded on the teacher's output package (go-pretty rounded
// tables, a fixed color palette, a PrintXxx function per result shape).
package display

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
)

var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Options.SeparateRows = false
	t.SetStyle(style)
	return t
}

// PrintReaderList prints the PC/SC readers visible to the system.
func PrintReaderList(readers []string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AVAILABLE READERS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 6},
		{Number: 2, Colors: colorValue, WidthMin: 40},
	})
	if len(readers) == 0 {
		t.AppendRow(table.Row{"status", colorWarn.Sprint("no readers found")})
	} else {
		for i, r := range readers {
			t.AppendRow(table.Row{fmt.Sprintf("[%d]", i), r})
		}
	}
	t.Render()
}

// SessionSummary is the set of facts worth showing after a processCommands
// round: what level the session ran at, whether it closed cleanly, and the
// APDUs exchanged (the audit trail).
type SessionSummary struct {
	AccessLevel string
	Ratified    bool
	Commands    []CommandTrace
}

// CommandTrace is one request/response pair from a processed round.
type CommandTrace struct {
	Ref      string
	Request  []byte
	Response []byte
	SW       uint16
}

// PrintSessionSummary prints the audit trail of a completed transaction
// round.
func PrintSessionSummary(s SessionSummary) {
	fmt.Println()
	t := newTable()
	t.SetTitle("SECURE SESSION SUMMARY")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 40},
	})
	t.AppendRow(table.Row{"Access level", s.AccessLevel})
	ratified := colorError.Sprint("no")
	if s.Ratified {
		ratified = colorSuccess.Sprint("yes")
	}
	t.AppendRow(table.Row{"Ratified", ratified})
	t.Render()

	if len(s.Commands) == 0 {
		return
	}
	fmt.Println()
	t2 := newTable()
	t2.SetTitle("AUDIT TRAIL")
	t2.AppendHeader(table.Row{"Command", "Request", "Response", "SW"})
	t2.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 20},
		{Number: 2, Colors: colorValue, WidthMin: 30},
		{Number: 3, Colors: colorValue, WidthMin: 30},
		{Number: 4, WidthMin: 6},
	})
	for _, c := range s.Commands {
		sw := fmt.Sprintf("%04X", c.SW)
		if c.SW == 0x9000 {
			sw = colorSuccess.Sprint(sw)
		} else {
			sw = colorError.Sprint(sw)
		}
		t2.AppendRow(table.Row{c.Ref, fmt.Sprintf("%X", c.Request), fmt.Sprintf("%X", c.Response), sw})
	}
	t2.Render()
}

// PrintSVBalance prints the stored-value balance and, if present, the
// reload/debit logs.
func PrintSVBalance(balance int, loadLog, debitLog []byte) {
	fmt.Println()
	t := newTable()
	t.SetTitle("STORED VALUE")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMin: 30},
	})
	t.AppendRow(table.Row{"Balance", balance})
	if len(loadLog) > 0 {
		t.AppendRow(table.Row{"Last reload", fmt.Sprintf("%X", loadLog)})
	}
	if len(debitLog) > 0 {
		t.AppendRow(table.Row{"Last debit", fmt.Sprintf("%X", debitLog)})
	}
	t.Render()
}

// PrintRecords prints the records read from one SFI.
func PrintRecords(sfi byte, records map[int][]byte) {
	fmt.Println()
	t := newTable()
	t.SetTitle(fmt.Sprintf("RECORDS — SFI %02X", sfi))
	t.AppendHeader(table.Row{"#", "Data (hex)"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 5},
		{Number: 2, Colors: colorValue, WidthMax: 80},
	})
	if len(records) == 0 {
		t.AppendRow(table.Row{"-", "(empty)"})
	} else {
		for n := 1; n <= len(records); n++ {
			if data, ok := records[n]; ok {
				t.AppendRow(table.Row{n, fmt.Sprintf("%X", data)})
			}
		}
	}
	t.Render()
}

// PrintError prints a transaction error, unwrapping a *calypsoerr.Error's
// Kind and audit trail when present.
func PrintError(err error) {
	if err == nil {
		return
	}
	var ce *calypsoerr.Error
	if e, ok := err.(*calypsoerr.Error); ok {
		ce = e
	}
	if ce == nil {
		fmt.Println(colorError.Sprintf("✗ error: %v", err))
		return
	}
	fmt.Println(colorError.Sprintf("✗ %s: %s", ce.Kind, ce.Msg))
	for _, a := range ce.Audit {
		fmt.Printf("  %s  req=%X resp=%X sw=%04X\n", a.CommandRef, a.Request, a.Response, a.SW)
	}
}

// PrintSuccess prints a one-line success message.
func PrintSuccess(msg string) {
	fmt.Println(colorSuccess.Sprintf("✓ %s", msg))
}

// PrintWarning prints a one-line warning message.
func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}
