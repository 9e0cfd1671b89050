package installer

import (
	"strings"

	"github.com/abogani/inau/internal/catalog"
)

// PlacementRule is what a RepositoryType contributes to installation:
// whether the Repository's destination_path is joined onto the
// server's prefix or skipped (LIBRARY's ".install" tree already
// encodes its own layout relative to the prefix per spec.md §4.4.2), a
// fixed remote file mode or "preserve the artifact's own mode", and an
// optional filter deciding which artifacts a given InstallationType may
// place. Generalizes inau.py's install()'s inline
// `filemode = "755"; if repository.type == configuration: filemode = "644"`
// into the same RepositoryType-keyed dispatch table
// internal/builder/dispatch.go uses for build recipes.
type PlacementRule struct {
	// FileMode is the fixed octal mode string used for the remote
	// `install -m`, or "" to preserve the artifact's own recorded mode.
	FileMode string

	// RootOnly means artifacts install directly under the server's
	// prefix instead of under prefix+repository.destination_path.
	RootOnly bool

	// SkipForSharedScope reports whether an artifact should be excluded
	// when installing at GLOBAL/FACILITY scope — spec.md §4.4.2's
	// "LIBRARY type under non-development facilities, exclude cmake and
	// pkgconfig subtrees (these are developer-only)". This data model has
	// no development/production flag on Facility (spec.md §3); the
	// worked example S3 installs to a FACILITY and still expects the
	// filter applied, so "non-development facility" is read here as "any
	// shared GLOBAL/FACILITY destination" as opposed to a single
	// developer's own HOST, which keeps the full .install tree including
	// cmake/pkgconfig for local toolchain use.
	SkipForSharedScope func(filename string) bool
}

var placementRules = map[catalog.RepositoryType]PlacementRule{
	catalog.RepositoryCPlusPlus:     {FileMode: "0755"},
	catalog.RepositoryPython:        {FileMode: "0755"},
	catalog.RepositoryShellScript:   {FileMode: "0755"},
	catalog.RepositoryConfiguration: {FileMode: "0644"},
	catalog.RepositoryLibrary: {
		RootOnly:           true,
		SkipForSharedScope: isBuildTimeOnlyArtifact,
	},
}

// isBuildTimeOnlyArtifact matches spec.md §4.4.2's cmake/pkgconfig
// exclusion for LIBRARY repositories at GLOBAL/FACILITY scope.
func isBuildTimeOnlyArtifact(filename string) bool {
	return strings.HasPrefix(filename, "lib/cmake/") || strings.HasPrefix(filename, "lib/pkgconfig/")
}

// PlacementFor returns the rule for t, defaulting to the C++ rule
// (mode 0755, no filter) for an unrecognized type.
func PlacementFor(t catalog.RepositoryType) PlacementRule {
	if r, ok := placementRules[t]; ok {
		return r
	}
	return placementRules[catalog.RepositoryCPlusPlus]
}

