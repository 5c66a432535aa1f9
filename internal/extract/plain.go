package extract

import (
	"fmt"
	"os"
	"unicode/utf8"
)

// extractPlain reads a text file as UTF-8. Invalid byte sequences are
// replaced rather than rejected, matching how text editors treat them.
func extractPlain(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if utf8.Valid(content) {
		return string(content), nil
	}
	return string([]rune(string(content))), nil
}
