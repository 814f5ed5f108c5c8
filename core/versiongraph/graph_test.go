package versiongraph

import (
	"testing"

	"onecore/core"
)

type memSource map[core.Hash]*Node

func (m memSource) GetNode(h core.Hash) (*Node, error) {
	n, ok := m[h]
	if !ok {
		return nil, errNotFound
	}
	return n, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "node not found" }

func hashOf(b byte) core.Hash {
	var h core.Hash
	h[0] = b
	return h
}

func TestBuildCompleteWalksToRoot(t *testing.T) {
	root := &Node{Hash: hashOf(1), Kind: KindRoot, Depth: 0}
	c1 := &Node{Hash: hashOf(2), Kind: KindChange, Prev: root.Hash, Depth: 1}
	c2 := &Node{Hash: hashOf(3), Kind: KindChange, Prev: c1.Hash, Depth: 2}
	src := memSource{root.Hash: root, c1.Hash: c1, c2.Hash: c2}

	tree, err := BuildComplete(c2.Hash, src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(tree.Nodes))
	}
	if tree.Nodes[0].Hash != c2.Hash {
		t.Fatalf("expected deepest-first ordering, got %v", tree.Nodes[0].Hash)
	}
}

func TestBuildUntilCommonHistoryFindsAncestor(t *testing.T) {
	root := &Node{Hash: hashOf(1), Kind: KindRoot, Depth: 0}
	base := &Node{Hash: hashOf(2), Kind: KindChange, Prev: root.Hash, Depth: 1}
	h1 := &Node{Hash: hashOf(3), Kind: KindChange, Prev: base.Hash, Depth: 2}
	h2 := &Node{Hash: hashOf(4), Kind: KindChange, Prev: base.Hash, Depth: 2}
	src := memSource{root.Hash: root, base.Hash: base, h1.Hash: h1, h2.Hash: h2}

	_, ancestor, alreadyMerged, err := BuildUntilCommonHistory(h1.Hash, h2.Hash, src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if alreadyMerged {
		t.Fatalf("expected not already merged")
	}
	if ancestor != base.Hash {
		t.Fatalf("expected common ancestor %v, got %v", base.Hash, ancestor)
	}
}

func TestBuildUntilCommonHistoryCollapsesWhenAncestor(t *testing.T) {
	root := &Node{Hash: hashOf(1), Kind: KindRoot, Depth: 0}
	h2 := &Node{Hash: hashOf(2), Kind: KindChange, Prev: root.Hash, Depth: 1}
	h1 := &Node{Hash: hashOf(3), Kind: KindChange, Prev: h2.Hash, Depth: 2}
	src := memSource{root.Hash: root, h2.Hash: h2, h1.Hash: h1}

	_, ancestor, alreadyMerged, err := BuildUntilCommonHistory(h1.Hash, h2.Hash, src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !alreadyMerged {
		t.Fatalf("expected already merged (h2 is ancestor of h1)")
	}
	if ancestor != h1.Hash {
		t.Fatalf("expected collapse to h1, got %v", ancestor)
	}
}

func TestFindPredecessorsStopsAtFirstMatch(t *testing.T) {
	root := &Node{Hash: hashOf(1), Kind: KindRoot, Depth: 0}
	c1 := &Node{Hash: hashOf(2), Kind: KindChange, Prev: root.Hash, Depth: 1}
	c2 := &Node{Hash: hashOf(3), Kind: KindChange, Prev: c1.Hash, Depth: 2}
	src := memSource{root.Hash: root, c1.Hash: c1, c2.Hash: c2}

	tree, err := BuildComplete(c2.Hash, src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	matches := FindPredecessors(tree, c2.Hash, func(n *Node) bool { return n.Kind == KindChange }, false)
	if len(matches) != 1 || matches[0].Hash != c1.Hash {
		t.Fatalf("expected single match c1, got %v", matches)
	}
}
