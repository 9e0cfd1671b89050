package builder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/abogani/inau/internal/errs"
)

func mustRunGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// newUpstreamRepo creates a bare-equivalent local repo with two tagged
// commits, returning its path for use as a clone source.
func newUpstreamRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustRunGit(t, dir, "init", "--initial-branch=main")
	mustRunGit(t, dir, "commit", "--allow-empty", "-m", "v1")
	mustRunGit(t, dir, "tag", "v1.0.0")
	mustRunGit(t, dir, "commit", "--allow-empty", "-m", "v2")
	mustRunGit(t, dir, "tag", "v2.0.0")
	return dir
}

func TestCheckoutClonesAndResetsToTag(t *testing.T) {
	upstream := newUpstreamRepo(t)
	workDir := filepath.Join(t.TempDir(), "checkout")

	if err := Checkout(context.Background(), upstream, workDir, "v1.0.0", ""); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	out, err := exec.Command("git", "-C", workDir, "describe", "--tags").CombinedOutput()
	if err != nil {
		t.Fatalf("git describe: %v\n%s", err, out)
	}
	if got := string(out); got != "v1.0.0\n" {
		t.Fatalf("describe = %q, want v1.0.0", got)
	}
}

func TestCheckoutReCheckoutUpdatesInPlace(t *testing.T) {
	upstream := newUpstreamRepo(t)
	workDir := filepath.Join(t.TempDir(), "checkout")

	if err := Checkout(context.Background(), upstream, workDir, "v1.0.0", ""); err != nil {
		t.Fatalf("first Checkout: %v", err)
	}
	if err := Checkout(context.Background(), upstream, workDir, "v2.0.0", ""); err != nil {
		t.Fatalf("second Checkout: %v", err)
	}

	out, err := exec.Command("git", "-C", workDir, "describe", "--tags").CombinedOutput()
	if err != nil {
		t.Fatalf("git describe: %v\n%s", err, out)
	}
	if got := string(out); got != "v2.0.0\n" {
		t.Fatalf("describe = %q, want v2.0.0", got)
	}
}

func TestTagReachable(t *testing.T) {
	upstream := newUpstreamRepo(t)

	reachable, err := TagReachable(context.Background(), upstream, "v1.0.0", "v2.0.0")
	if err != nil {
		t.Fatalf("TagReachable: %v", err)
	}
	if !reachable {
		t.Fatalf("expected v1.0.0 to be an ancestor of v2.0.0")
	}

	reachable, err = TagReachable(context.Background(), upstream, "v2.0.0", "v1.0.0")
	if err != nil {
		t.Fatalf("TagReachable (reverse): %v", err)
	}
	if reachable {
		t.Fatalf("expected v2.0.0 to NOT be an ancestor of v1.0.0")
	}
}

func TestCheckoutAcceptsTagReachableFromDefaultBranch(t *testing.T) {
	upstream := newUpstreamRepo(t)
	workDir := filepath.Join(t.TempDir(), "checkout")

	if err := Checkout(context.Background(), upstream, workDir, "v2.0.0", "main"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
}

// TestCheckoutRejectsTagOnFeatureBranch exercises spec.md §4.2.2 step
// 1's "reject if not [reachable] — this excludes tags created on
// feature branches" boundary: a tag cut from a branch that never
// merged to main must fail the build before any reset is attempted.
func TestCheckoutRejectsTagOnFeatureBranch(t *testing.T) {
	upstream := newUpstreamRepo(t)
	mustRunGit(t, upstream, "checkout", "-b", "feature/x")
	mustRunGit(t, upstream, "commit", "--allow-empty", "-m", "feature work")
	mustRunGit(t, upstream, "tag", "v9.0.0-rc1")
	mustRunGit(t, upstream, "checkout", "main")

	workDir := filepath.Join(t.TempDir(), "checkout")
	err := Checkout(context.Background(), upstream, workDir, "v9.0.0-rc1", "main")
	if err == nil {
		t.Fatal("expected Checkout to reject a tag unreachable from the default branch")
	}
	if got := errs.KindOf(err); got != errs.KindInputRejected {
		t.Fatalf("error kind = %v, want KindInputRejected", got)
	}
}

func TestFastForwardBranchTracksBranchTip(t *testing.T) {
	upstream := newUpstreamRepo(t)
	workDir := filepath.Join(t.TempDir(), "macros")

	if err := FastForwardBranch(context.Background(), upstream, workDir, "main"); err != nil {
		t.Fatalf("first FastForwardBranch: %v", err)
	}
	out, err := exec.Command("git", "-C", workDir, "describe", "--tags").CombinedOutput()
	if err != nil {
		t.Fatalf("git describe: %v\n%s", err, out)
	}
	if got := string(out); got != "v2.0.0\n" {
		t.Fatalf("describe = %q, want v2.0.0", got)
	}

	mustRunGit(t, upstream, "commit", "--allow-empty", "-m", "v3")
	mustRunGit(t, upstream, "tag", "v3.0.0")
	if err := FastForwardBranch(context.Background(), upstream, workDir, "main"); err != nil {
		t.Fatalf("second FastForwardBranch: %v", err)
	}
	out, err = exec.Command("git", "-C", workDir, "describe", "--tags").CombinedOutput()
	if err != nil {
		t.Fatalf("git describe: %v\n%s", err, out)
	}
	if got := string(out); got != "v3.0.0\n" {
		t.Fatalf("describe = %q, want v3.0.0 after fast-forward", got)
	}
}
