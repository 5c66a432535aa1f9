// Package utils holds small helpers shared by the server and CLI: logger
// construction, vector math, and text display.
package utils

// Truncate cuts s to maxLen bytes, appending "..." when anything was cut.
// A non-positive maxLen leaves s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
