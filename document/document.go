// Package document turns uploaded study material into plain text suitable
// for graph extraction.
package document

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPages caps how much of a large PDF is processed; lecture notes and
// textbooks front-load the material that matters for a lesson.
const maxPages = 50

// Extractor reads a document file and returns its text content.
// Implementations are keyed by file extension.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// PDF extracts text from PDF files page by page.
type PDF struct{}

// ExtractText reads up to maxPages pages of the PDF at path. Pages that
// fail to extract are skipped; an error is returned only when the file
// cannot be opened or no page yields any text (typically a scanned PDF).
func (PDF) ExtractText(ctx context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := totalPages
	if pages > maxPages {
		pages = maxPages
	}

	var parts []string
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract.
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no extractable text in %s (scanned PDF?)", path)
	}
	return CleanText(strings.Join(parts, "\n\n")), nil
}

// Preview returns a short preview of document text, truncated at a word
// boundary.
func Preview(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := strings.LastIndex(text[:maxLen], " ")
	if cut <= 0 {
		cut = maxLen
	}
	return text[:cut] + "..."
}

var (
	spaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes whitespace noise common in extracted documents:
// runs of spaces collapse to one, runs of blank lines collapse to a single
// blank line.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
