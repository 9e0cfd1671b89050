package builder

import "github.com/abogani/inau/internal/catalog"

// Kind distinguishes a build job from the pool-control sentinel used
// to drain and stop a worker during reconciliation, mirroring
// inau-dispatcher.py's JobType (kill/build/update). Update is kept:
// original_source's makefiles-repository push hook refreshes a
// checkout without building it, and nothing in spec.md's Non-goals
// excludes it.
type Kind int

const (
	KindBuild Kind = iota
	KindUpdate
	KindTerminate
)

// Job is one unit of work handed to a Builder's queue.
type Job struct {
	Kind          Kind
	Build         catalog.Build
	Repository    catalog.Repository
	ProviderURL   string
	DefaultBranch string // repository's declared default branch; a build's tag must be reachable from it (spec.md §4.2.2 step 1)
	NotifyEmails  []string
}
