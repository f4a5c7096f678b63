// Package evidence stores the documents (photos, scanned forms) attached to a
// return before it is submitted.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"apotekita/backend/internal/domain"
)

var (
	ErrEmpty           = errors.New("evidence file is empty")
	ErrTooLarge        = errors.New("evidence file too large")
	ErrUnsupportedType = errors.New("evidence must be an image or PDF")
	ErrNotFound        = errors.New("evidence not found")
)

var allowedTypes = []struct {
	mime string
	ext  string
}{
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"image/webp", ".webp"},
	{"application/pdf", ".pdf"},
}

type Upload struct {
	Filename string
	Body     io.Reader
}

type Store interface {
	Put(ctx context.Context, upload Upload) (domain.EvidenceRef, error)
	Open(ctx context.Context, ref domain.EvidenceRef) (io.ReadCloser, string, error)
}

// LocalStore keeps evidence files in one directory, named by a random UUID and
// the extension of the sniffed content type.
type LocalStore struct {
	dir      string
	maxBytes int64
}

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("evidence dir is required")
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("evidence max bytes must be positive")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *LocalStore) MaxBytes() int64 {
	return s.maxBytes
}

func (s *LocalStore) Put(ctx context.Context, upload Upload) (domain.EvidenceRef, error) {
	if upload.Body == nil {
		return "", ErrEmpty
	}
	data, err := io.ReadAll(io.LimitReader(upload.Body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read evidence: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	ext, ok := extensionFor(mimetype.Detect(data))
	if !ok {
		return "", ErrUnsupportedType
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + ext
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write evidence file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("sync evidence file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close evidence file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("store evidence file: %w", err)
	}
	return domain.EvidenceRef(name), nil
}

func (s *LocalStore) Open(_ context.Context, ref domain.EvidenceRef) (io.ReadCloser, string, error) {
	name := string(ref)
	ext := filepath.Ext(name)
	if _, err := uuid.Parse(strings.TrimSuffix(name, ext)); err != nil {
		return nil, "", ErrNotFound
	}
	contentType := ""
	for _, t := range allowedTypes {
		if t.ext == ext {
			contentType = t.mime
		}
	}
	if contentType == "" {
		return nil, "", ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return f, contentType, nil
}

func extensionFor(mt *mimetype.MIME) (string, bool) {
	for _, t := range allowedTypes {
		if mt.Is(t.mime) {
			return t.ext, true
		}
	}
	return "", false
}
