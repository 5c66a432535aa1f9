package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFPages reads the PDF at path page by page, in batches of
// pdfPageBatchSize pages, and calls fn with each page's text in page order.
// ctx is checked between batches so a large extraction can be cancelled
// without waiting for the whole file.
func ExtractPDFPages(ctx context.Context, path string, fn func(pageText string) error) error {
	f, r, err := pdf.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open PDF: %v", ErrExtraction, err)
	}
	defer f.Close()

	numPages := r.NumPage()
	for batchStart := 1; batchStart <= numPages; batchStart += pdfPageBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batchEnd := batchStart + pdfPageBatchSize - 1
		if batchEnd > numPages {
			batchEnd = numPages
		}
		for i := batchStart; i <= batchEnd; i++ {
			page := r.Page(i)
			if page.V.IsNull() {
				continue
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("%w: extract page %d: %v", ErrExtraction, i, err)
			}
			if err := fn(text); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractPDFText concatenates all page texts, each page separated by a blank line.
func extractPDFText(ctx context.Context, path string) (string, error) {
	var pages []string
	err := ExtractPDFPages(ctx, path, func(pageText string) error {
		pages = append(pages, pageText)
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(pages, "\n\n"), nil
}
