package main

import (
	"testing"

	"github.com/spf13/afero"

	"onecore/core/recipe"
	"onecore/internal/access"
	"onecore/internal/store"
)

func newTestRegistry(t *testing.T) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()
	if err := registerBuiltinRecipes(reg); err != nil {
		t.Fatalf("registerBuiltinRecipes: %v", err)
	}
	return reg
}

func TestMergeCoordinatorFactoryWiresRequestedRecipe(t *testing.T) {
	reg := newTestRegistry(t)
	st, err := store.NewFSStore(afero.NewMemMapFs(), "/root")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	idx := access.NewFSReverseIndex(st)

	build := mergeCoordinatorFactory(reg, st, idx)
	coord, err := build(keysRecipeName)
	if err != nil {
		t.Fatalf("build(%q): %v", keysRecipeName, err)
	}
	if coord.Recipe.Name != keysRecipeName {
		t.Fatalf("expected coordinator recipe %q, got %q", keysRecipeName, coord.Recipe.Name)
	}
	if coord.Source == nil || coord.Fetch == nil || coord.Persist == nil || coord.RecurseRef == nil {
		t.Fatalf("expected every Coordinator collaborator to be wired, got %+v", coord)
	}
}

func TestMergeCoordinatorFactoryCachesPerType(t *testing.T) {
	reg := newTestRegistry(t)
	st, err := store.NewFSStore(afero.NewMemMapFs(), "/root")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	idx := access.NewFSReverseIndex(st)

	build := mergeCoordinatorFactory(reg, st, idx)
	first, err := build(keysRecipeName)
	if err != nil {
		t.Fatalf("build first: %v", err)
	}
	second, err := build(keysRecipeName)
	if err != nil {
		t.Fatalf("build second: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same cached *merge.Coordinator instance across calls")
	}
}

func TestMergeCoordinatorFactoryErrorsOnUnregisteredType(t *testing.T) {
	reg := newTestRegistry(t)
	st, err := store.NewFSStore(afero.NewMemMapFs(), "/root")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	idx := access.NewFSReverseIndex(st)

	build := mergeCoordinatorFactory(reg, st, idx)
	if _, err := build("NoSuchType"); err == nil {
		t.Fatalf("expected an error for an unregistered recipe name")
	}
}
