package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/peoplecore/flagguard/internal/monitor"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintStatus outputs the flag health report in the specified format
func PrintStatus(status *monitor.Status, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(status)
	case FormatYAML:
		return printYAML(status)
	case FormatTable:
		return printStatusTable(status)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintHistory outputs recent rollback events in the specified format
func PrintHistory(events []monitor.RollbackSummary, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]monitor.RollbackSummary{"rollbacks": events})
	case FormatYAML:
		return printYAML(events)
	case FormatTable:
		return printHistoryTable(events)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printStatusTable(status *monitor.Status) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Flag", "Status", "Error Rate", "Window", "Threshold", "Auto", "Last Error")

	names := make([]string, 0, len(status.PerFlag))
	for name := range status.PerFlag {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fh := status.PerFlag[name]

		lastError := "-"
		if fh.LastErrorAt != nil {
			lastError = fh.LastErrorAt.Format("2006-01-02 15:04:05")
		}
		auto := "off"
		if fh.AutoRollback {
			auto = "on"
		}

		table.Append(
			name,
			fh.Status,
			fmt.Sprintf("%.2f%%", fh.ErrorRatePct),
			fmt.Sprintf("%d/%d err", fh.Errors, fh.Requests),
			fmt.Sprintf("%.2f%%", fh.ThresholdPct),
			auto,
			lastError,
		)
	}

	if err := table.Render(); err != nil {
		return err
	}

	if len(status.ActiveCooldowns) > 0 {
		fmt.Println()
		cd := tablewriter.NewWriter(os.Stdout)
		cd.Header("Cooling Down", "Expires At", "Remaining")
		for _, c := range status.ActiveCooldowns {
			remaining := (time.Duration(c.RemainingMs) * time.Millisecond).Round(time.Second)
			cd.Append(c.Flag, c.ExpiresAt.Format(time.RFC3339), remaining.String())
		}
		if err := cd.Render(); err != nil {
			return err
		}
	}
	return nil
}

func printHistoryTable(events []monitor.RollbackSummary) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Flag", "Trigger", "Error Rate", "Note")

	for _, e := range events {
		note := e.Note
		if len(note) > 40 {
			note = note[:37] + "..."
		}
		table.Append(
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Flag,
			e.Trigger,
			fmt.Sprintf("%.2f%%", e.ErrorRatePct),
			note,
		)
	}

	return table.Render()
}
