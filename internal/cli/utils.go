// Package cli provides output helpers for the localbrain command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/pkg/utils"
)

// OutputFormat is the format for search result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d matches (%d chunks searched) for %q\n\n",
		response.TotalMatches, response.TotalSearched, response.Query)
	for i, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank %d | Similarity: %.4f\n", i+1, result.Similarity)
		fmt.Fprintf(w, "%s (chunk %d)\n", result.Document.FileName, result.ChunkIndex)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(result.ChunkText, 200))
	}
}

// WriteSources writes answer citations to w.
func WriteSources(w io.Writer, sources []models.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, src := range sources {
		fmt.Fprintf(w, "  [%d] %s (chunk %d, similarity %.2f)\n",
			i+1, src.FileName, src.ChunkIndex, src.Similarity)
	}
}
