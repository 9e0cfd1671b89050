package builder

import (
	"strings"
	"testing"

	"github.com/abogani/inau/internal/catalog"
)

func TestRecipeForKnownTypes(t *testing.T) {
	cases := []struct {
		repoType catalog.RepositoryType
		want     string
	}{
		{catalog.RepositoryCPlusPlus, "bin"},
		{catalog.RepositoryPython, "bin"},
		{catalog.RepositoryShellScript, "bin"},
		{catalog.RepositoryConfiguration, "etc"},
		{catalog.RepositoryLibrary, ".install"},
	}
	for _, c := range cases {
		got := RecipeFor(c.repoType)
		if got.ArtifactsDir != c.want {
			t.Errorf("RecipeFor(%v).ArtifactsDir = %q, want %q", c.repoType, got.ArtifactsDir, c.want)
		}
	}
}

func TestRecipeForLibraryRunsInstallStep(t *testing.T) {
	got := RecipeFor(catalog.RepositoryLibrary)
	if !strings.Contains(got.BuildCmd, "rm -fr .install") || !strings.Contains(got.BuildCmd, "PREFIX=.install make install") {
		t.Errorf("RecipeFor(LIBRARY).BuildCmd = %q, want rm+install step", got.BuildCmd)
	}
}

func TestRecipeForUnknownFallsBackToCPlusPlus(t *testing.T) {
	got := RecipeFor(catalog.RepositoryType(99))
	if got != recipes[catalog.RepositoryCPlusPlus] {
		t.Errorf("RecipeFor(unknown) = %+v, want C++ fallback", got)
	}
}
