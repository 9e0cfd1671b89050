package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/abogani/inau/internal/errs"
)

func TestIngestAndFetchRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("make: building libfoo.so\n")
	want := sha256.Sum256(content)
	wantHex := hex.EncodeToString(want[:])

	hexHash, size, err := s.Ingest(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if hexHash != wantHex {
		t.Fatalf("Ingest hash = %s, want %s", hexHash, wantHex)
	}
	if size != int64(len(content)) {
		t.Fatalf("Ingest size = %d, want %d", size, len(content))
	}
	if !s.Has(hexHash) {
		t.Fatalf("Has(%s) = false after Ingest", hexHash)
	}

	dst := filepath.Join(t.TempDir(), "out.bin")
	if err := s.Fetch(hexHash, dst, 0o644); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("fetched content = %q, want %q", got, content)
	}
}

func TestIngestIdenticalContentIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("duplicate artifact bytes")
	h1, _, err := s.Ingest(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Ingest #1: %v", err)
	}
	h2, _, err := s.Ingest(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Ingest #2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ across identical ingests: %s vs %s", h1, h2)
	}
}

func TestFanOutLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hexHash, _, err := s.Ingest(bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	want := filepath.Join(root, hexHash[0:2], hexHash[2:4], hexHash)
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected object at %s: %v", want, err)
	}
}

func TestFetchMissingObjectNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Fetch("0000000000000000000000000000000000000000000000000000000000000000", filepath.Join(t.TempDir(), "x"), 0o644)
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("KindOf() = %v, want KindNotFound", errs.KindOf(err))
	}
}
