// Package format renders coverage, faults and records for output.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"droidlog/internal/model"
)

// Formats lists the accepted output formats.
var Formats = []string{"table", "plain", "json", "jsonl"}

func normalize(format string) (string, error) {
	format = strings.ToLower(format)
	switch format {
	case "", "table":
		return "table", nil
	case "plain", "json", "jsonl":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true
	return tw
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

// coverageRow is one horizon of a snapshot.
type coverageRow struct {
	Horizon      string   `json:"horizon"`
	Called       int      `json:"called"`
	Instrumented int      `json:"instrumented"`
	Percentage   *float64 `json:"percentage"`
	Uncalled     []string `json:"uncalled"`
}

func coverageRows(snap model.CoverageSnapshot) []coverageRow {
	return []coverageRow{
		{"episode", snap.EpisodeCalled, snap.Instrumented, snap.EpisodePercentage, snap.UncalledEpisode},
		{"cumulative", snap.CumulativeCalled, snap.Instrumented, snap.CumulativePercentage, snap.UncalledCumulative},
	}
}

// WriteCoverage writes a coverage snapshot in the requested format.
func WriteCoverage(w io.Writer, snap model.CoverageSnapshot, format string) error {
	format, err := normalize(format)
	if err != nil {
		return err
	}
	rows := coverageRows(snap)
	switch format {
	case "plain":
		if _, err := fmt.Fprintln(w, "horizon\tcalled\tinstrumented\tpercentage"); err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", row.Horizon, row.Called, row.Instrumented, FormatPercentage(row.Percentage)); err != nil {
				return err
			}
		}
		return nil
	case "json":
		return writeJSON(w, snap)
	case "jsonl":
		return writeJSONL(w, rows)
	}

	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})
	tw.AppendHeader(table.Row{"Horizon", "Called", "Instrumented", "Coverage"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row.Horizon, row.Called, row.Instrumented, FormatPercentage(row.Percentage)})
	}
	_ = tw.Render()
	return nil
}

// FormatPercentage renders p with two decimals, or "-" when undefined.
func FormatPercentage(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *p)
}

// faultRow is the serialised form of a fault.
type faultRow struct {
	Time    time.Time       `json:"time"`
	Type    model.FaultType `json:"type"`
	Index   int64           `json:"index"`
	PID     string          `json:"pid"`
	Message string          `json:"message"`
	Body    []string        `json:"body"`
}

func toFaultRow(f model.Fault) faultRow {
	header := f.Header.Line()
	body := make([]string, 0, len(f.Body))
	for _, rec := range f.Body {
		body = append(body, rec.GetMessage())
	}
	return faultRow{Time: f.Time, Type: f.Type, Index: header.Index, PID: header.PID, Message: header.Message, Body: body}
}

// WriteFaults writes one row per fault in the requested format.
func WriteFaults(w io.Writer, faults []model.Fault, includeHeader bool, format string) error {
	format, err := normalize(format)
	if err != nil {
		return err
	}
	rows := make([]faultRow, 0, len(faults))
	for _, f := range faults {
		rows = append(rows, toFaultRow(f))
	}

	switch format {
	case "plain":
		if includeHeader {
			if _, err := fmt.Fprintln(w, "time\ttype\tindex\tpid\tlines\tmessage"); err != nil {
				return err
			}
		}
		for _, row := range rows {
			line := fmt.Sprintf("%s\t%s\t%d\t%s\t%d\t%s",
				formatTime(row.Time), row.Type, row.Index, row.PID, len(row.Body)+1, escapeNewlines(row.Message))
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	case "json":
		return writeJSON(w, rows)
	case "jsonl":
		return writeJSONL(w, rows)
	}

	tw := newTable(w)
	tw.Style().Options.SeparateRows = true
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 5, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 80},
	})
	if includeHeader {
		tw.AppendHeader(table.Row{"Time", "Type", "Index", "Lines", "Message"})
	}
	for _, row := range rows {
		tw.AppendRow(table.Row{formatTime(row.Time), row.Type, row.Index, len(row.Body) + 1, escapeNewlines(row.Message)})
	}
	if len(rows) == 0 {
		tw.AppendRow(table.Row{"-", "(no faults)", "-", 0, "-"})
	}
	_ = tw.Render()
	return nil
}

// WriteCalls writes call counts ordered as given.
func WriteCalls(w io.Writer, calls []model.CallRecord, format string) error {
	format, err := normalize(format)
	if err != nil {
		return err
	}
	switch format {
	case "plain":
		if _, err := fmt.Fprintln(w, "method_id\tcount\tpackage\tfile"); err != nil {
			return err
		}
		for _, c := range calls {
			if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.MethodID, c.Count, c.Package, c.FileName); err != nil {
				return err
			}
		}
		return nil
	case "json":
		return writeJSON(w, calls)
	case "jsonl":
		return writeJSONL(w, calls)
	}

	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 80},
	})
	tw.AppendHeader(table.Row{"Method", "Calls", "Package", "File"})
	for _, c := range calls {
		tw.AppendRow(table.Row{c.MethodID, c.Count, c.Package, c.FileName})
	}
	if len(calls) == 0 {
		tw.AppendRow(table.Row{"-", 0, "(no calls)", "-"})
	}
	_ = tw.Render()
	return nil
}

type packageRow struct {
	Package string `json:"package"`
	Methods int    `json:"methods"`
}

// WritePackages writes per-package method counts ordered by package name.
func WritePackages(w io.Writer, counts map[string]int, format string) error {
	format, err := normalize(format)
	if err != nil {
		return err
	}
	rows := make([]packageRow, 0, len(counts))
	for pkg, n := range counts {
		rows = append(rows, packageRow{Package: pkg, Methods: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Package < rows[j].Package })

	switch format {
	case "plain":
		if _, err := fmt.Fprintln(w, "package\tmethods"); err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s\t%d\n", row.Package, row.Methods); err != nil {
				return err
			}
		}
		return nil
	case "json":
		return writeJSON(w, rows)
	case "jsonl":
		return writeJSONL(w, rows)
	}

	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})
	tw.AppendHeader(table.Row{"Package", "Methods"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row.Package, row.Methods})
	}
	_ = tw.Render()
	return nil
}

func escapeNewlines(text string) string {
	return strings.ReplaceAll(text, "\n", "\\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
