package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// extractCSV parses a CSV with a header row and serializes each data row as
// "Row <n>: col1: val1, col2: val2, ...", one line per record, preserving
// column order. Row numbers are 1-based over data rows.
func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open CSV: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("%w: parse CSV: %v", ErrExtraction, err)
	}
	if len(records) < 2 {
		return "", nil
	}

	header := records[0]
	var b strings.Builder
	for n, record := range records[1:] {
		if n > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Row %d: ", n+1)
		for i, val := range record {
			if i > 0 {
				b.WriteString(", ")
			}
			col := fmt.Sprintf("column_%d", i+1)
			if i < len(header) {
				col = header[i]
			}
			b.WriteString(col)
			b.WriteString(": ")
			b.WriteString(val)
		}
	}
	return b.String(), nil
}
