package builder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/internal/store"
)

func newArtifactWorker(t *testing.T, st ArtifactStore) (*worker, *catalog.DB, catalog.Build) {
	t.Helper()
	db, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	platformID, err := db.CreatePlatform(ctx, catalog.Platform{Distribution: "debian", Version: "12", Architecture: "amd64"})
	if err != nil {
		t.Fatalf("seed platform: %v", err)
	}
	repoID, err := db.CreateRepository(ctx, catalog.Repository{
		PlatformID: platformID, ProviderURL: "git@gitlab:grp/proj.git", SourcePath: "proj",
		Type: catalog.RepositoryCPlusPlus, DestinationPath: "/opt/proj", Enabled: true,
	})
	if err != nil {
		t.Fatalf("seed repository: %v", err)
	}
	buildID, err := db.CreateBuild(ctx, repoID, platformID, "v1.0.0", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("seed build: %v", err)
	}
	build, err := db.GetBuild(ctx, buildID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}

	w := &worker{hostname: "builder1.local", deps: Deps{Catalog: db, Store: st}}
	return w, db, build
}

// erroringStore always fails Ingest, simulating a disk-full mid-walk
// (spec.md §4.2.5's "artifact collection partial failure").
type erroringStore struct{}

func (erroringStore) Ingest(r io.Reader) (string, int64, error) {
	io.Copy(io.Discard, r)
	return "", 0, errors.New("simulated ENOSPC")
}

func TestCollectArtifactsHashesAndSymlinks(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	w, db, build := newArtifactWorker(t, st)

	buildDir := t.TempDir()
	binDir := filepath.Join(buildDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "foo"), []byte("binary-contents"), 0o755); err != nil {
		t.Fatalf("write foo: %v", err)
	}
	if err := os.Symlink("foo", filepath.Join(binDir, "foo-1.0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	job := Job{Build: build}
	if err := w.collectArtifacts(context.Background(), job, buildDir, RecipeFor(catalog.RepositoryCPlusPlus)); err != nil {
		t.Fatalf("collectArtifacts: %v", err)
	}

	artifacts, err := db.ListArtifacts(context.Background(), build.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("len(artifacts) = %d, want 2", len(artifacts))
	}

	var sawHash, sawSymlink bool
	for _, a := range artifacts {
		switch a.Filename {
		case "foo":
			if a.Hash == "" || a.SymlinkTarget != "" {
				t.Errorf("foo artifact = %+v, want hash set and no symlink target", a)
			}
			sawHash = true
		case "foo-1.0":
			if a.SymlinkTarget != "foo" || a.Hash != "" {
				t.Errorf("foo-1.0 artifact = %+v, want symlink_target=foo and no hash", a)
			}
			sawSymlink = true
		default:
			t.Errorf("unexpected artifact filename %q", a.Filename)
		}
	}
	if !sawHash || !sawSymlink {
		t.Fatalf("missing expected artifact rows: sawHash=%v sawSymlink=%v", sawHash, sawSymlink)
	}
}

// TestCollectArtifactsPartialFailureCommitsNothing verifies spec.md
// §4.2.5: an ingestion failure partway through the walk must leave zero
// artifact rows for the build, never a partial set.
func TestCollectArtifactsPartialFailureCommitsNothing(t *testing.T) {
	w, db, build := newArtifactWorker(t, erroringStore{})

	buildDir := t.TempDir()
	binDir := filepath.Join(buildDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "foo"), []byte("x"), 0o755); err != nil {
		t.Fatalf("write foo: %v", err)
	}

	job := Job{Build: build}
	if err := w.collectArtifacts(context.Background(), job, buildDir, RecipeFor(catalog.RepositoryCPlusPlus)); err == nil {
		t.Fatalf("collectArtifacts should fail when the store fails to ingest")
	}

	artifacts, err := db.ListArtifacts(context.Background(), build.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("len(artifacts) = %d, want 0 after a mid-walk ingest failure", len(artifacts))
	}
}

func TestCollectArtifactsMissingDirIsNotAnError(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	w, db, build := newArtifactWorker(t, st)

	buildDir := t.TempDir() // no bin/ created at all

	job := Job{Build: build}
	if err := w.collectArtifacts(context.Background(), job, buildDir, RecipeFor(catalog.RepositoryCPlusPlus)); err != nil {
		t.Fatalf("collectArtifacts: %v", err)
	}
	artifacts, err := db.ListArtifacts(context.Background(), build.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("len(artifacts) = %d, want 0 for a missing artifacts directory", len(artifacts))
	}
}
