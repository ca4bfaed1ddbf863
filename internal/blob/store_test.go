package blob

import (
	"errors"
	"io"
	"strings"
	"testing"

	"localchat/server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	meta, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open meta store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	s, err := NewStore(t.TempDir(), meta)
	if err != nil {
		t.Fatalf("new upload store: %v", err)
	}
	return s
}

func TestPutAndOpenRoundtrip(t *testing.T) {
	s := newTestStore(t)

	info, err := s.Put("notes.txt", "text/plain", strings.NewReader("hello upload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.OriginalName != "notes.txt" || info.Mimetype != "text/plain" || info.Size != int64(len("hello upload")) {
		t.Fatalf("unexpected descriptor: %#v", info)
	}
	if !strings.HasPrefix(info.URL, "/api/files/") {
		t.Fatalf("unexpected url: %q", info.URL)
	}
	if !strings.HasSuffix(info.Filename, ".txt") {
		t.Fatalf("expected extension preserved, got %q", info.Filename)
	}

	id := strings.TrimPrefix(info.URL, "/api/files/")
	result, err := s.Open(id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer result.File.Close()

	data, err := io.ReadAll(result.File)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello upload" {
		t.Fatalf("content mismatch: %q", data)
	}
	if result.Record.ContentType != "text/plain" {
		t.Fatalf("unexpected record: %#v", result.Record)
	}
}

func TestPutDetectsContentTypeFromExtension(t *testing.T) {
	s := newTestStore(t)

	info, err := s.Put("photo.png", "", strings.NewReader("not really a png"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Mimetype != "image/png" {
		t.Fatalf("expected image/png, got %q", info.Mimetype)
	}

	info, err = s.Put("mystery", "", strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Mimetype != "application/octet-stream" {
		t.Fatalf("expected octet-stream fallback, got %q", info.Mimetype)
	}
}

func TestPutRejectsOversizedUpload(t *testing.T) {
	s := newTestStore(t)

	big := io.LimitReader(neverEnding('x'), MaxUploadSize+1)
	if _, err := s.Put("big.bin", "", big); err == nil {
		t.Fatal("expected oversized upload to be rejected")
	}
}

func TestOpenUnknownID(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Open("nope"); !errors.Is(err, store.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}
