// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Supported formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Stdout and Stderr are the destinations; tests swap them
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// ValidFormat reports whether f is a known output format
func ValidFormat(f string) bool {
	switch f {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// PrintJSON writes data as indented JSON to stdout
func PrintJSON(data interface{}) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML writes data as YAML to stdout
func PrintYAML(data interface{}) error {
	enc := yaml.NewEncoder(Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// Print writes data in a structured format, or calls table for FormatTable
func Print(format string, data interface{}, table func()) error {
	switch format {
	case FormatJSON:
		return PrintJSON(data)
	case FormatYAML:
		return PrintYAML(data)
	default:
		table()
		return nil
	}
}

// PrintTable writes tabular data to stdout
func PrintTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(Stdout, 0, 0, 2, ' ', 0)

	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, h)
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, col)
		}
		fmt.Fprintln(w)
	}

	w.Flush()
}

// PrintMessage writes a plain message to stdout
func PrintMessage(msg string) {
	fmt.Fprintln(Stdout, msg)
}

// PrintError writes an error message to stderr
func PrintError(err error) {
	fmt.Fprintf(Stderr, "Error: %v\n", err)
}
