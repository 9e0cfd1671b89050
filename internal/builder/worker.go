package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/internal/errs"
	"github.com/abogani/inau/internal/notify"
	"github.com/abogani/inau/internal/sshexec"
	"github.com/abogani/inau/pkg/logger"
)

// Deps bundles everything a worker needs to run one Job, passed down
// from the Pool so individual workers stay free of global state (the
// teacher's executeBuild closed over *Server directly; this splits
// that out so workers are independently testable with fakes).
type Deps struct {
	Catalog  *catalog.DB
	Store    ArtifactStore
	SSH      sshexec.Client
	Notifier *notify.Notifier
	Log      *logger.Logger

	WorkspaceRoot string
	BuildTimeout  time.Duration

	MacrosRepoURL string
	MacrosBranch  string
	MacrosPath    string
}

// ArtifactStore is the subset of *store.Store a worker needs, narrowed
// to a local interface so tests can substitute an in-memory fake
// without importing the real content-addressed implementation.
type ArtifactStore interface {
	Ingest(r io.Reader) (hexHash string, size int64, err error)
}

// worker runs one Builder's job queue sequentially — one make at a
// time per remote host, the way inau-dispatcher.py's Builder.build()
// loop pulls one Job off its multiprocessing Queue at a time.
type worker struct {
	hostname    string
	environment string // optional env-file sourced before the build, "" if unset
	jobs        chan Job
	deps        Deps
}

func newWorker(hostname, environment string, deps Deps) *worker {
	return &worker{hostname: hostname, environment: environment, jobs: make(chan Job, 64), deps: deps}
}

func (w *worker) run() {
	for job := range w.jobs {
		if job.Kind == KindTerminate {
			return
		}
		w.process(job)
	}
}

func (w *worker) process(job Job) {
	ctx := context.Background()

	platDir := filepath.Join(w.deps.WorkspaceRoot, fmt.Sprint(job.Build.PlatformID))
	buildDir := filepath.Join(platDir, job.Repository.SourcePath)

	if w.deps.MacrosRepoURL != "" {
		macrosPath := w.deps.MacrosPath
		if macrosPath == "" {
			macrosPath = "build-macros"
		}
		macrosDir := filepath.Join(platDir, macrosPath)
		if err := FastForwardBranch(ctx, w.deps.MacrosRepoURL, macrosDir, w.deps.MacrosBranch); err != nil {
			w.fail(job, err.Error())
			return
		}
	}

	if err := Checkout(ctx, job.ProviderURL, buildDir, job.Build.Tag, job.DefaultBranch); err != nil {
		w.fail(job, err.Error())
		return
	}
	if job.Kind == KindUpdate {
		return // makefiles-repository refresh: checkout only, no make/artifacts
	}

	if err := w.deps.Catalog.UpdateBuildStatus(ctx, job.Build.ID, catalog.BuildRunning, ""); err != nil {
		w.deps.Log.Error("mark build running", err)
	}

	recipe := RecipeFor(job.Repository.Type)
	var pre string
	if w.environment != "" {
		pre = fmt.Sprintf("source %s; ", w.environment)
	}
	cmd := fmt.Sprintf(
		"(%ssource /etc/profile; cd %s; %s) 2>&1",
		pre, buildDir, recipe.BuildCmd,
	)
	timeout := w.deps.BuildTimeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	result, err := w.deps.SSH.Run(ctx, w.hostname, cmd, timeout)
	if err != nil {
		w.fail(job, err.Error())
		return
	}

	output := string(result.Stdout)
	status := catalog.BuildSuccess
	outcome := fmt.Sprintf("%s %s: built successfully on %s", job.Repository.SourcePath, filepath.Base(job.Build.Tag), w.hostname)
	if result.ExitCode != 0 {
		status = catalog.BuildFailed
		outcome = fmt.Sprintf("%s %s: build failed on %s", job.Repository.SourcePath, filepath.Base(job.Build.Tag), w.hostname)
	}

	if status == catalog.BuildSuccess {
		if cerr := w.collectArtifacts(ctx, job, buildDir, recipe); cerr != nil {
			// Partial artifact collection never leaves a half-built SUCCESS:
			// the build outcome itself flips to FAILED with the collection
			// error as its diagnostic (spec.md §4.2.5).
			status = catalog.BuildFailed
			output = fmt.Sprintf("%s\nartifact collection failed: %s", output, cerr.Error())
			outcome = fmt.Sprintf("%s %s: artifact collection failed on %s", job.Repository.SourcePath, filepath.Base(job.Build.Tag), w.hostname)
		}
	}

	if err := w.deps.Catalog.UpdateBuildStatus(ctx, job.Build.ID, status, output); err != nil {
		w.deps.Log.Error("persist build result", err)
	}

	users, err := w.deps.Catalog.NotifyOptedInUsers(ctx)
	if err != nil {
		w.deps.Log.Error("list notify-opted-in users", err)
	}
	w.deps.Notifier.BuildOutcome(users, job.NotifyEmails, outcome, output)
}

func (w *worker) fail(job Job, reason string) {
	if err := w.deps.Catalog.UpdateBuildStatus(context.Background(), job.Build.ID, catalog.BuildFailed, reason); err != nil {
		w.deps.Log.Error("persist build failure", err)
	}
}

// collectArtifacts walks recipe.ArtifactsDir under buildDir, ingesting
// every regular file into the Object Store and recording symlinks with
// their target instead of a hash — the Go equivalent of
// inau-dispatcher.py's os.walk + sha256 + shutil.copyfile loop, plus
// the teacher's symlink-preserving copyDirectory behavior the Python
// version lacked (follow_symlinks=False there still dereferenced the
// walk itself). Rows are only appended once the full walk has
// succeeded (see AddArtifacts): a mid-walk ingestion failure leaves
// zero rows in the catalog for this build, per spec.md §4.2.5.
func (w *worker) collectArtifacts(ctx context.Context, job Job, buildDir string, recipe Recipe) error {
	root := filepath.Join(buildDir, recipe.ArtifactsDir)
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing produced is not an error
		}
		return errs.StorageFailure("stat artifacts directory", err)
	}
	if !info.IsDir() {
		return nil
	}

	var artifacts []catalog.Artifact
	walkErr := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			artifacts = append(artifacts, catalog.Artifact{
				BuildID: job.Build.ID, BuildDate: time.Now(),
				Filename: rel, SymlinkTarget: target,
			})
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		hexHash, _, err := w.deps.Store.Ingest(f)
		f.Close()
		if err != nil {
			return err
		}
		artifacts = append(artifacts, catalog.Artifact{
			BuildID: job.Build.ID, BuildDate: time.Now(),
			Filename: rel, Hash: hexHash, Mode: uint32(fi.Mode().Perm()),
		})
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return w.deps.Catalog.AddArtifacts(ctx, artifacts)
}
