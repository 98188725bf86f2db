// Package ocr extracts text from ticket attachments. The Engine interface
// keeps the actual OCR implementation swappable; the default engine handles
// text-like content and degrades to empty output for binary formats it
// cannot read, which the validation pipeline treats as "no extra context".
package ocr

import (
	"strings"
	"unicode/utf8"
)

// Engine extracts text from attachment bytes.
type Engine interface {
	ExtractText(data []byte, mimeType string) string
}

// PlainTextEngine decodes text-like attachments and returns empty output for
// anything that needs real OCR.
type PlainTextEngine struct{}

// NewPlainTextEngine creates the default engine.
func NewPlainTextEngine() *PlainTextEngine {
	return &PlainTextEngine{}
}

// ExtractText returns the decoded content for text-like MIME types. Image
// and PDF attachments yield empty text here; images still reach the vision
// model verbatim through the validation pipeline.
func (e *PlainTextEngine) ExtractText(data []byte, mimeType string) string {
	switch {
	case strings.Contains(mimeType, "image"), strings.Contains(mimeType, "pdf"):
		return ""
	default:
		if !utf8.Valid(data) {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
}
