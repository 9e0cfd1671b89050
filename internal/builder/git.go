package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/abogani/inau/internal/errs"
)

// updateMirror ensures a clone of repoURL exists at workDir and has
// every ref fetched, without touching the working tree — the "update
// local mirror" half of spec.md §4.2.2 step 1, shared by both the
// target repository checkout and the shared build-macros clone.
func updateMirror(ctx context.Context, repoURL, workDir string) error {
	if isGitRepository(workDir) {
		if err := run(ctx, "", "git", "-C", workDir, "remote", "set-url", "origin", repoURL); err != nil {
			return err
		}
		return run(ctx, "", "git", "-C", workDir, "fetch", "--tags", "--prune", "origin")
	}
	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return errs.StorageFailure("create build workspace directory", err)
	}
	return run(ctx, "", "git", "clone", repoURL, workDir)
}

// FastForwardBranch maintains the shared build-macros clone spec.md
// §4.2.2 step 1 and §6.3 describe: a mirror kept on its declared
// default branch rather than pinned to a tag, refreshed ahead of every
// target repository checkout under the same platform directory.
func FastForwardBranch(ctx context.Context, repoURL, workDir, branch string) error {
	if err := updateMirror(ctx, repoURL, workDir); err != nil {
		return err
	}
	if err := run(ctx, "", "git", "-C", workDir, "checkout", branch); err != nil {
		return err
	}
	return run(ctx, "", "git", "-C", workDir, "reset", "--hard", "origin/"+branch)
}

// Checkout ensures repoURL is cloned at workDir and fetched, rejects
// tag if it isn't reachable from defaultBranch (an empty defaultBranch
// skips that check, e.g. for repositories with no declared default
// branch on record), then hard-resets onto tag and force-updates
// submodules — following inau-dispatcher.py's build() worker: clone if
// absent, otherwise fetch + reset --hard + submodule update, the way
// apps/core/internal/source/fetcher.go's fetchGitLayerTo clones-or-updates
// a layer via os/exec rather than a git library.
func Checkout(ctx context.Context, repoURL, workDir, tag, defaultBranch string) error {
	if err := updateMirror(ctx, repoURL, workDir); err != nil {
		return err
	}

	if defaultBranch != "" {
		reachable, err := TagReachable(ctx, workDir, tag, "origin/"+defaultBranch)
		if err != nil {
			return err
		}
		if !reachable {
			return errs.InputRejected(fmt.Sprintf("tag %q is not reachable from default branch %q, rejecting build", tag, defaultBranch))
		}
	}

	if err := run(ctx, "", "git", "-C", workDir, "reset", "--hard", tag); err != nil {
		return err
	}
	return run(ctx, "", "git", "-C", workDir, "submodule", "update", "--init", "--recursive", "--force")
}

// TagReachable reports whether tag's commit is an ancestor of (or
// equal to) ref's commit — the merge-base replacement for
// inau-dispatcher.py's fragile `git branch --contains` string match,
// which breaks on detached-HEAD checkouts and renamed branches.
func TagReachable(ctx context.Context, workDir, tag, ref string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", workDir, "merge-base", "--is-ancestor", tag, ref)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok && exitErr.ExitCode() == 1 {
		return false, nil // git's documented "not an ancestor" exit code
	}
	return false, errs.TransientRemote("git merge-base --is-ancestor", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func isGitRepository(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

func run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errs.TransientRemote(name+" "+strings.Join(args, " ")+": "+msg, err)
	}
	return nil
}
