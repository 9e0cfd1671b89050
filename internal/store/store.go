// Package store is INAU's content-addressed artifact store: every
// regular file a build produces is written once, keyed by the SHA-256
// of its contents, under a two-level hex-prefix fan-out directory the
// way git's object store lays out blobs. The checksum-streaming-copy
// this is grounded on is apps/daemon/internal/daemon/server.go's
// copyDirectory/calculateChecksum, generalized from a per-build
// directory tree into a dedicated, builds-share-identical-files store.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/abogani/inau/internal/errs"
)

// Store is a content-addressed blob store rooted at a single
// directory. Callers are expected to keep Root on one filesystem;
// Ingest relies on os.Rename for atomicity (spec.md's Non-goals rule
// out cross-filesystem artifact stores).
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.StorageFailure("create object store root", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// pathFor returns the two-level fan-out path for a hex SHA-256 digest:
// <root>/<h0h1>/<h2h3>/<hex>.
func (s *Store) pathFor(hexHash string) string {
	return filepath.Join(s.root, hexHash[0:2], hexHash[2:4], hexHash)
}

// Has reports whether an object with the given hex digest is already
// present, letting callers skip re-ingesting identical artifacts
// across builds.
func (s *Store) Has(hexHash string) bool {
	_, err := os.Stat(s.pathFor(hexHash))
	return err == nil
}

// Ingest streams r into the store, computing its SHA-256 as it goes,
// and returns the resulting hex digest. The write lands in a temp file
// in the store root, is fsynced, then atomically renamed into place —
// so a crash mid-ingest never leaves a partially written object visible
// under its final name. Ingesting identical content twice leaves the
// stored object untouched the second time (Has is checked once the
// temp file is written, and the temp file is then discarded) and always
// returns the same digest either way.
func (s *Store) Ingest(r io.Reader) (hexHash string, size int64, err error) {
	tmp, err := os.CreateTemp(s.root, "ingest-*")
	if err != nil {
		return "", 0, errs.StorageFailure("create ingest temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	hash := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, hash))
	if err != nil {
		tmp.Close()
		return "", 0, errs.StorageFailure("write ingest temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, errs.StorageFailure("fsync ingest temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, errs.StorageFailure("close ingest temp file", err)
	}

	hexHash = hex.EncodeToString(hash.Sum(nil))
	dst := s.pathFor(hexHash)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, errs.StorageFailure("create object fan-out directory", err)
	}
	if s.Has(hexHash) {
		return hexHash, n, nil // identical content already stored
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, errs.StorageFailure("rename object into place", err)
	}
	if err := os.Chmod(dst, 0o444); err != nil {
		return "", 0, errs.StorageFailure("make object read-only", err)
	}
	return hexHash, n, nil
}

// IngestFile ingests the file at path, preserving nothing about its
// name or mode (those live in the catalog's artifacts row, not here).
func (s *Store) IngestFile(path string) (hexHash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errs.StorageFailure("open file for ingest", err)
	}
	defer f.Close()
	return s.Ingest(f)
}

// Open returns a reader for the object with the given hex digest.
func (s *Store) Open(hexHash string) (*os.File, error) {
	f, err := os.Open(s.pathFor(hexHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("object " + hexHash + " not found")
		}
		return nil, errs.StorageFailure("open object", err)
	}
	return f, nil
}

// Fetch copies the object with the given hex digest to dstPath with
// the given file mode. The Installer does not use it: it streams
// objects straight from Open into the SFTP upload.
func (s *Store) Fetch(hexHash, dstPath string, mode os.FileMode) error {
	src, err := s.Open(hexHash)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return errs.StorageFailure("create fetch destination directory", err)
	}
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errs.StorageFailure("create fetch destination file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errs.StorageFailure("copy object to destination", err)
	}
	return nil
}
