// Package document turns uploaded files into plain text for the analysis
// pipeline.
package document

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	dErrors "dealguard/pkg/domain-errors"
)

// Extractor converts an uploaded file into plain text plus its page count.
// Failures are validation errors: a broken file will not get better on retry.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (text string, pageCount int, err error)
}

// FileExtractor dispatches on file extension. PDF and plain-text formats
// are supported; scanned PDFs with no text layer are rejected rather than
// OCRed.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (e *FileExtractor) Extract(_ context.Context, filename string, data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, dErrors.New(dErrors.CodeValidation, "uploaded file is empty")
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(data)
	case ".txt", ".md":
		return extractPlainText(data)
	default:
		return "", 0, dErrors.Newf(dErrors.CodeValidation,
			"unsupported file format %q, expected .pdf, .txt or .md", filepath.Ext(filename))
	}
}

func extractPDF(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeValidation, "parse pdf")
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeValidation, "extract pdf text")
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeValidation, "read pdf text")
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", 0, dErrors.New(dErrors.CodeValidation,
			"pdf has no extractable text, scanned documents are not supported")
	}
	return text, reader.NumPage(), nil
}

// Plain-text files count as a single page.
func extractPlainText(data []byte) (string, int, error) {
	if !utf8.Valid(data) {
		return "", 0, dErrors.New(dErrors.CodeValidation, "file is not valid utf-8 text")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", 0, dErrors.New(dErrors.CodeValidation, "file contains no text")
	}
	return text, 1, nil
}
