package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Sentinel for documents whose pages carry no extractable text. The caller
// treats this as a terminal per-file condition, not a batch failure.
var ErrEmptyDocument = errors.New("Empty document")

// ErrNotPDF marks content that fails the PDF signature check.
var ErrNotPDF = errors.New("not a PDF file")

var pdfMagic = []byte("%PDF-")

// Extractor is the replaceable text-extraction collaborator.
type Extractor interface {
	Extract(path string) (string, error)
}

// PDFExtractor extracts plain text from PDF files. No OCR: image-only pages
// contribute nothing and an all-image document resolves to ErrEmptyDocument.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract reads the file at path and returns its concatenated page text.
// The parser library panics on some malformed inputs, so parsing is fenced
// with a recover that converts the panic into an error.
func (e *PDFExtractor) Extract(path string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	return e.extract(path)
}

func (e *PDFExtractor) extract(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if !bytes.HasPrefix(raw, pdfMagic) {
		return "", ErrNotPDF
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", ErrEmptyDocument
	}
	return out, nil
}
