package crdt

import (
	"testing"

	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
)

func hashOf(b byte) core.Hash {
	var h core.Hash
	h[0] = b
	return h
}

func strVal(s string) object.Value { return object.Value{Kind: recipe.KindString, Str: s} }

func TestResolveRejectsMismatchedKind(t *testing.T) {
	if _, err := Resolve("Set", recipe.KindString); err == nil {
		t.Fatalf("expected AlgorithmTypeMismatch for Set on a leaf kind")
	}
	if _, err := Resolve("Standard", recipe.KindSet); err == nil {
		t.Fatalf("expected AlgorithmTypeMismatch for Standard on a container kind")
	}
}

func TestStandardPicksLatestCreationTime(t *testing.T) {
	h1, h2 := hashOf(1), hashOf(2)
	tree := &versiongraph.Tree{ByHash: map[core.Hash]*versiongraph.Node{
		h1: {Hash: h1, CreationTime: 100, Data: hashOf(0xA)},
		h2: {Hash: h2, CreationTime: 200, Data: hashOf(0xB)},
	}}
	algo, err := Resolve("Standard", recipe.KindString)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, err := algo.Merge(MergeInput{
		Tree: tree, Head1: h1, Head2: h2, Path: "text",
		Projected: map[core.Hash]object.Value{h1: strVal("old"), h2: strVal("new")},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Str != "new" {
		t.Fatalf("expected latest value 'new', got %q", out.Str)
	}
}

func TestSetMergeAddAndRemove(t *testing.T) {
	base, h1, h2 := hashOf(1), hashOf(2), hashOf(3)
	tree := &versiongraph.Tree{
		Nodes: []*versiongraph.Node{
			{Hash: h1, Depth: 2}, {Hash: h2, Depth: 2}, {Hash: base, Depth: 1},
		},
		ByHash: map[core.Hash]*versiongraph.Node{
			base: {Hash: base, Depth: 1},
			h1:   {Hash: h1, Depth: 2},
			h2:   {Hash: h2, Depth: 2},
		},
	}
	ancestorSet := object.Value{Kind: recipe.KindSet, Elements: []object.Value{strVal("a"), strVal("b")}}
	h1Set := object.Value{Kind: recipe.KindSet, Elements: []object.Value{strVal("a"), strVal("b"), strVal("c")}}
	h2Set := object.Value{Kind: recipe.KindSet, Elements: []object.Value{strVal("a")}}

	algo, err := Resolve("Set", recipe.KindSet)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, err := algo.Merge(MergeInput{
		Tree: tree, Head1: h1, Head2: h2, Path: "tags",
		Projected: map[core.Hash]object.Value{base: ancestorSet, h1: h1Set, h2: h2Set},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := map[string]bool{}
	for _, e := range out.Elements {
		got[e.Str] = true
	}
	if len(got) != 2 || !got["a"] || !got["c"] {
		t.Fatalf("expected {a,c}, got %v", got)
	}
	if got["b"] {
		t.Fatalf("expected b removed, got %v", got)
	}
}

func TestOptionalValueSetVsDelete(t *testing.T) {
	h1, h2 := hashOf(1), hashOf(2)
	tree := &versiongraph.Tree{ByHash: map[core.Hash]*versiongraph.Node{
		h1: {Hash: h1, CreationTime: 50},
		h2: {Hash: h2, CreationTime: 100},
	}}
	algo, err := Resolve("OptionalValue", recipe.KindString)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v := strVal("set-by-h2")
	out, err := algo.Merge(MergeInput{
		Tree: tree, Head1: h1, Head2: h2, Path: "title",
		Projected: map[core.Hash]object.Value{h2: v},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Str != "set-by-h2" {
		t.Fatalf("expected later set to win over earlier delete, got %+v", out)
	}
}
