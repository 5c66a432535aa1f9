// Package extract provides text extraction from uploaded document files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extraction failure modes. Callers test with errors.Is.
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrExtraction      = errors.New("extraction failed")
)

// DefaultMaxFileSize is the upload size cap when none is configured.
const DefaultMaxFileSize = 50 * 1024 * 1024 // 50MB

// pdfPageBatchSize is how many PDF pages are read per batch so that
// cancellation can be checked between batches.
const pdfPageBatchSize = 5

// Extractor extracts plain text from PDF, CSV, and TXT files.
type Extractor struct {
	maxFileSize int64
}

// NewExtractor returns an extractor enforcing the given size limit.
// A non-positive limit falls back to DefaultMaxFileSize.
func NewExtractor(maxFileSize int64) *Extractor {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Extractor{maxFileSize: maxFileSize}
}

// FileInfo describes a validated upload.
type FileInfo struct {
	FileType string // "pdf", "csv", or "txt"
	Size     int64
}

// Validate checks that the file at path exists, is within the size limit,
// and has a supported extension.
func (e *Extractor) Validate(path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > e.maxFileSize {
		return nil, fmt.Errorf("%w: %.2fMB (max %dMB)",
			ErrFileTooLarge, float64(info.Size())/(1024*1024), e.maxFileSize/(1024*1024))
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf", ".csv", ".txt":
		return &FileInfo{FileType: strings.TrimPrefix(ext, "."), Size: info.Size()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
}

// Extract validates the file at path and returns its full extracted text.
// PDF pages are joined with a blank line in page order.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	info, err := e.Validate(path)
	if err != nil {
		return "", err
	}
	switch info.FileType {
	case "pdf":
		return extractPDFText(ctx, path)
	case "csv":
		return extractCSV(path)
	default:
		return extractPlain(path)
	}
}
