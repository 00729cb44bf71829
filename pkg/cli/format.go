// Package cli provides shared formatting helpers for the devregctl CLI.
package cli

import (
	"encoding/json"
	"fmt"
)

// ANSI color helpers

func Green(s string) string  { return "\033[32m" + s + "\033[0m" }
func Yellow(s string) string { return "\033[33m" + s + "\033[0m" }
func Red(s string) string    { return "\033[31m" + s + "\033[0m" }
func Bold(s string) string   { return "\033[1m" + s + "\033[0m" }
func Dim(s string) string    { return "\033[2m" + s + "\033[0m" }

// ColorState renders a device session state with a conventional color:
// green online, yellow offline, dim anything else.
func ColorState(state string) string {
	switch state {
	case "online":
		return Green(state)
	case "offline":
		return Yellow(state)
	default:
		return Dim(state)
	}
}

// FormatValue renders an arbitrary config or reply value for table cells.
// Strings print bare; everything else prints as compact JSON.
func FormatValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// FormatJSON renders v as indented JSON for --json output.
func FormatJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
