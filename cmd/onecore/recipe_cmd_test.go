package main

import (
	"reflect"
	"testing"

	"onecore/core/recipe"
)

func TestSortedRecipeNamesOrdersAlphabetically(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := registerBuiltinRecipes(reg); err != nil {
		t.Fatalf("registerBuiltinRecipes: %v", err)
	}
	got := sortedRecipeNames(reg)
	want := []string{"Keys", "OneVersionNode"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
