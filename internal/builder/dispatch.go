package builder

import "github.com/abogani/inau/internal/catalog"

// Recipe is what a RepositoryType contributes to a build: the remote
// make invocation run on the Builder host and the output directory
// (relative to the checkout) artifacts are collected from afterward.
// Replaces the runtime type switch inau-dispatcher.py's build() used
// inline with a lookup table, the same polymorphism-over-dispatch-table
// shape internal/installer/placement.go uses for install placement.
// Values are spec.md §4.2.2's table verbatim: CPLUSPLUS/PYTHON/
// SHELLSCRIPT collect from bin/, CONFIGURATION from etc/, LIBRARY from
// .install/ via its own install-prefixed make step.
type Recipe struct {
	// BuildCmd is the command run after "cd <builddir>;", with the
	// make job count given as the `getconf _NPROCESSORS_ONLN` shell
	// expression (nprocsExpr), evaluated on the Builder host.
	BuildCmd     string
	ArtifactsDir string
}

const nprocsExpr = "`getconf _NPROCESSORS_ONLN`"

var recipes = map[catalog.RepositoryType]Recipe{
	catalog.RepositoryCPlusPlus:     {BuildCmd: "make -j" + nprocsExpr, ArtifactsDir: "bin"},
	catalog.RepositoryPython:        {BuildCmd: "make -j" + nprocsExpr, ArtifactsDir: "bin"},
	catalog.RepositoryShellScript:   {BuildCmd: "make -j" + nprocsExpr, ArtifactsDir: "bin"},
	catalog.RepositoryConfiguration: {BuildCmd: "make -j" + nprocsExpr, ArtifactsDir: "etc"},
	catalog.RepositoryLibrary: {
		BuildCmd:     "make -j" + nprocsExpr + " && rm -fr .install && PREFIX=.install make install",
		ArtifactsDir: ".install",
	},
}

// RecipeFor returns the build recipe for t, or the C++ recipe if t is
// unrecognized (every repository row is validated against the enum at
// catalog-admin time, so this path is defensive only).
func RecipeFor(t catalog.RepositoryType) Recipe {
	if r, ok := recipes[t]; ok {
		return r
	}
	return recipes[catalog.RepositoryCPlusPlus]
}
