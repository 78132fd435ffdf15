package staging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Staging persists uploaded bytes for the duration of one request. All
// validation happens here, before any model call, so invalid input never
// spends completion quota.

var (
	ErrEmptyFile = errors.New("empty or invalid file")
	ErrTooLarge  = errors.New("file too large")
	ErrNotPDF    = errors.New("is not a PDF file")
)

var pdfMagic = []byte("%PDF-")

// Area is a request-scoped temporary directory. It is exclusively owned by
// the request that created it; Cleanup removes everything regardless of how
// the request ended.
type Area struct {
	dir          string
	maxFileBytes int64
	log          *slog.Logger
}

// NewArea creates the backing temp directory.
func NewArea(maxFileBytes int64, log *slog.Logger) (*Area, error) {
	if log == nil {
		log = slog.Default()
	}
	dir, err := os.MkdirTemp("", "claim-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Area{dir: dir, maxFileBytes: maxFileBytes, log: log}, nil
}

// Stage validates and writes one upload, returning the local path.
// Validation order: non-empty, then name/signature, then size ceiling.
func (a *Area) Stage(filename string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%q: %w", filename, ErrEmptyFile)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return "", fmt.Errorf("%s %w", filename, ErrNotPDF)
	}
	if !bytes.HasPrefix(content, pdfMagic) {
		return "", fmt.Errorf("%s %w", filename, ErrNotPDF)
	}
	if a.maxFileBytes > 0 && int64(len(content)) > a.maxFileBytes {
		return "", fmt.Errorf("%q exceeds %d bytes: %w", filename, a.maxFileBytes, ErrTooLarge)
	}

	path := filepath.Join(a.dir, uuid.NewString()+".pdf")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write staged file: %w", err)
	}
	return path, nil
}

// Cleanup removes the staging directory and all staged files. Errors are
// logged, not returned; there is nothing a caller can do about them.
func (a *Area) Cleanup() {
	if err := os.RemoveAll(a.dir); err != nil {
		a.log.Warn("staging cleanup failed", "dir", a.dir, "error", err)
	}
}
