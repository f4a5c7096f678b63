package evidence

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newStore(t *testing.T, max int64) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "evidence"), max)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestPutAndOpenPDF(t *testing.T) {
	s := newStore(t, 1<<20)
	body := "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"

	ref, err := s.Put(context.Background(), Upload{Filename: "form.pdf", Body: strings.NewReader(body)})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasSuffix(string(ref), ".pdf") {
		t.Fatalf("expected pdf ref, got %s", ref)
	}

	rc, contentType, err := s.Open(context.Background(), ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != body || contentType != "application/pdf" {
		t.Fatalf("unexpected content %q (%s)", got, contentType)
	}
}

func TestPutSniffsContentNotFilename(t *testing.T) {
	s := newStore(t, 1<<20)
	ref, err := s.Put(context.Background(), Upload{Filename: "photo.pdf", Body: bytes.NewReader(pngHeader)})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasSuffix(string(ref), ".png") {
		t.Fatalf("expected png by content, got %s", ref)
	}

	_, err = s.Put(context.Background(), Upload{Filename: "scan.jpg", Body: strings.NewReader("just some text")})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
}

func TestPutRejectsEmptyAndOversized(t *testing.T) {
	s := newStore(t, 16)
	if _, err := s.Put(context.Background(), Upload{Body: strings.NewReader("")}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected empty error, got %v", err)
	}
	if _, err := s.Put(context.Background(), Upload{Body: bytes.NewReader(pngHeader)}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files written, found %d", len(entries))
	}
}

func TestOpenRejectsPathTraversal(t *testing.T) {
	s := newStore(t, 1<<20)
	if _, _, err := s.Open(context.Background(), "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
