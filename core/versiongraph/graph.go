// Package versiongraph implements the Version Graph (§4.5): a DAG of
// version-nodes for one versioned id, built from a NodeSource, navigated by
// predecessor/successor queries, and projectable onto a single field path.
package versiongraph

import (
	"sort"

	"onecore/core"
	"onecore/core/diff"
	"onecore/core/object"
	"onecore/pkg/errcode"
)

// Kind distinguishes the three version-node sub-types (§3).
type Kind string

const (
	KindRoot   Kind = "root"   // first version of an id; implicit edge to "empty"
	KindChange Kind = "change" // single predecessor
	KindMerge  Kind = "merge"  // >= 1 parent (0 parents treated as an implicit edge to empty)
)

// EmptyDepth is the depth attributed to the "empty" predecessor of a root
// node, one below a root's own depth of 0.
const EmptyDepth = -1

// Node is one version-node: Root, Change or Merge.
type Node struct {
	Hash core.Hash
	Kind Kind

	Data   core.Hash // concrete object hash this version-node points to
	Prev   core.Hash // Kind == Change: previous version-node hash
	Parents []core.Hash // Kind == Merge: parent version-node hashes

	CreationTime int64
	Depth        int

	Successors      []core.Hash
	PredecessorDiff map[core.Hash]map[string][]diff.Transformation
}

// predecessors returns n's direct predecessor version-node hashes.
func (n *Node) predecessors() []core.Hash {
	switch n.Kind {
	case KindChange:
		if n.Prev.IsZero() {
			return nil
		}
		return []core.Hash{n.Prev}
	case KindMerge:
		return n.Parents
	default: // KindRoot
		return nil
	}
}

// NodeSource resolves a version-node hash to its Node, the external
// collaborator a VersionTree is built against (typically backed by the
// object store, since version-nodes are ordinary recipe-typed objects).
type NodeSource interface {
	GetNode(h core.Hash) (*Node, error)
}

// Tree is a constructed DAG of version-nodes for one id, held as an array
// ordered by decreasing depth.
type Tree struct {
	Nodes  []*Node
	ByHash map[core.Hash]*Node
}

func newTree() *Tree {
	return &Tree{ByHash: make(map[core.Hash]*Node)}
}

func (t *Tree) add(n *Node) {
	if _, exists := t.ByHash[n.Hash]; exists {
		return
	}
	t.ByHash[n.Hash] = n
	t.Nodes = append(t.Nodes, n)
}

// sortByDepthDesc restores the "ordered by decreasing depth" invariant
// after construction.
func (t *Tree) sortByDepthDesc() {
	sort.SliceStable(t.Nodes, func(i, j int) bool { return t.Nodes[i].Depth > t.Nodes[j].Depth })
}

// BuildComplete walks predecessors from root until no predecessors remain.
func BuildComplete(root core.Hash, src NodeSource) (*Tree, error) {
	t := newTree()
	var walk func(h core.Hash) error
	walk = func(h core.Hash) error {
		if _, ok := t.ByHash[h]; ok {
			return nil
		}
		n, err := src.GetNode(h)
		if err != nil {
			return err
		}
		t.add(n)
		for _, p := range n.predecessors() {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	t.sortByDepthDesc()
	return t, nil
}

// BuildUntilCommonHistory walks predecessors of h1 and h2 in depth-priority
// order (always expanding the current highest-depth frontier node) until
// exactly one frontier element remains: the deepest common ancestor.
// Short-circuits to the single-head case if one head is found to be a
// predecessor of the other while expanding.
//
// Returns the tree spanning both histories down to (and including) the
// common ancestor, and the common ancestor's hash. If the heads collapse
// (one is an ancestor of the other), alreadyMerged is true and the returned
// hash is the descendant head, not the ancestor.
func BuildUntilCommonHistory(h1, h2 core.Hash, src NodeSource) (tree *Tree, commonAncestor core.Hash, alreadyMerged bool, err error) {
	t := newTree()
	get := func(h core.Hash) (*Node, error) {
		if n, ok := t.ByHash[h]; ok {
			return n, nil
		}
		n, err := src.GetNode(h)
		if err != nil {
			return nil, err
		}
		t.add(n)
		return n, nil
	}

	n1, err := get(h1)
	if err != nil {
		return nil, core.Hash{}, false, err
	}
	n2, err := get(h2)
	if err != nil {
		return nil, core.Hash{}, false, err
	}
	if h1 == h2 {
		t.sortByDepthDesc()
		return t, h1, true, nil
	}

	// frontier: the two branch tips still being walked back, keyed by which
	// original head's branch they belong to so we can detect ancestry
	// short-circuit ("one head is a predecessor of the other").
	type branch struct {
		node   *Node
		origin int // 1 or 2
	}
	frontier := []branch{{n1, 1}, {n2, 2}}

	for {
		// Short-circuit: if a frontier node from one origin equals the other
		// head directly, that head is an ancestor of the other.
		for _, b := range frontier {
			// origin-1's branch walked back and reached head 2: head 2 is an
			// ancestor of head 1, so head 1 (the descendant) is the result.
			if b.origin == 1 && b.node.Hash == h2 {
				t.sortByDepthDesc()
				return t, h1, true, nil
			}
			// symmetric: origin-2's branch reached head 1.
			if b.origin == 2 && b.node.Hash == h1 {
				t.sortByDepthDesc()
				return t, h2, true, nil
			}
		}

		// Collapse frontier entries that have converged onto the same node:
		// that node is the common ancestor.
		seen := map[core.Hash]bool{}
		for _, b := range frontier {
			if seen[b.node.Hash] {
				t.sortByDepthDesc()
				return t, b.node.Hash, false, nil
			}
			seen[b.node.Hash] = true
		}

		if len(frontier) == 1 {
			t.sortByDepthDesc()
			return t, frontier[0].node.Hash, false, nil
		}

		// Expand the current highest-depth frontier node.
		maxIdx := 0
		for i, b := range frontier {
			if b.node.Depth > frontier[maxIdx].node.Depth {
				maxIdx = i
			}
		}
		toExpand := frontier[maxIdx]
		preds := toExpand.node.predecessors()
		newFrontier := append([]branch{}, frontier[:maxIdx]...)
		newFrontier = append(newFrontier, frontier[maxIdx+1:]...)
		if len(preds) == 0 {
			// Reached empty with nothing else to expand against: the
			// remaining frontier (if any) already represents the only
			// possible common history; if frontier is now empty there is
			// no common history at all.
			if len(newFrontier) == 0 {
				return nil, core.Hash{}, false, errcode.New(errcode.Internal, "version graph: no common history")
			}
			frontier = newFrontier
			continue
		}
		for _, p := range preds {
			pn, err := get(p)
			if err != nil {
				return nil, core.Hash{}, false, err
			}
			newFrontier = append(newFrontier, branch{pn, toExpand.origin})
		}
		frontier = newFrontier
	}
}

// ObjectFetcher resolves a concrete object hash to its parsed object, needed
// for subpath projection.
type ObjectFetcher func(h core.Hash) (*object.Object, error)

// Project returns, for each node of tree that has concrete data, the value
// of field path in that node's concrete object; nodes whose object lacks
// the field have no entry. path is looked up as a single top-level field
// name, not walked as a dotted path. Project does not rebuild tree and does
// not touch any node's PredecessorDiff.
func Project(tree *Tree, path string, fetch ObjectFetcher) (map[core.Hash]object.Value, error) {
	out := make(map[core.Hash]object.Value, len(tree.Nodes))
	for _, n := range tree.Nodes {
		if n.Data.IsZero() {
			continue
		}
		obj, err := fetch(n.Data)
		if err != nil {
			return nil, err
		}
		v, ok := obj.Fields[path]
		if !ok {
			continue
		}
		out[n.Hash] = v
	}
	return out, nil
}

// FindPredecessors returns all nodes reachable backwards from start matching
// pred, stopping expansion at the first match along each branch.
func FindPredecessors(tree *Tree, start core.Hash, pred func(*Node) bool, includeSelf bool) []*Node {
	var result []*Node
	visited := map[core.Hash]bool{}
	var walk func(h core.Hash, isStart bool)
	walk = func(h core.Hash, isStart bool) {
		if visited[h] {
			return
		}
		visited[h] = true
		n, ok := tree.ByHash[h]
		if !ok {
			return
		}
		if !isStart || includeSelf {
			if pred(n) {
				result = append(result, n)
				return
			}
		}
		for _, p := range n.predecessors() {
			walk(p, false)
		}
	}
	walk(start, true)
	return result
}

// FindSuccessors is the symmetric forward variant of FindPredecessors,
// using each node's Successors list (populated by ComputeEdges).
func FindSuccessors(tree *Tree, start core.Hash, pred func(*Node) bool, includeSelf bool) []*Node {
	var result []*Node
	visited := map[core.Hash]bool{}
	var walk func(h core.Hash, isStart bool)
	walk = func(h core.Hash, isStart bool) {
		if visited[h] {
			return
		}
		visited[h] = true
		n, ok := tree.ByHash[h]
		if !ok {
			return
		}
		if !isStart || includeSelf {
			if pred(n) {
				result = append(result, n)
				return
			}
		}
		for _, s := range n.Successors {
			walk(s, false)
		}
	}
	walk(start, true)
	return result
}

// FindTopLevelPredecessors returns the subset of FindPredecessors(tree,
// start, pred, false) that are not themselves ancestors of another match.
func FindTopLevelPredecessors(tree *Tree, start core.Hash, pred func(*Node) bool) []*Node {
	matches := FindPredecessors(tree, start, pred, false)
	isAncestorOfAnother := func(candidate *Node) bool {
		for _, other := range matches {
			if other.Hash == candidate.Hash {
				continue
			}
			for _, n := range FindPredecessors(tree, other.Hash, func(x *Node) bool { return x.Hash == candidate.Hash }, false) {
				if n.Hash == candidate.Hash {
					return true
				}
			}
		}
		return false
	}
	var top []*Node
	for _, m := range matches {
		if !isAncestorOfAnother(m) {
			top = append(top, m)
		}
	}
	return top
}

// FindMaxPredecessor returns the topmost match under cmp (cmp(a, b) reports
// whether a ranks strictly above b), or nil if neither start nor any
// predecessor matches pred. start itself is a candidate.
func FindMaxPredecessor(tree *Tree, start core.Hash, pred func(*Node) bool, cmp func(a, b *Node) bool) *Node {
	matches := FindPredecessors(tree, start, pred, true)
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if cmp(m, best) {
			best = m
		}
	}
	return best
}

// ComputeEdges fills in Successors and PredecessorDiff for every node in
// tree: for each non-ancestral (i.e. every) node, resolve predecessor
// indices, append to predecessors' successor lists, and diff against each
// predecessor's concrete data (nil diff for an edge-to-empty).
func ComputeEdges(tree *Tree, fetch ObjectFetcher, diffFn func(a, b *object.Object) (map[string][]diff.Transformation, error)) error {
	for _, n := range tree.Nodes {
		preds := n.predecessors()
		if len(preds) == 0 {
			continue
		}
		if n.PredecessorDiff == nil {
			n.PredecessorDiff = make(map[core.Hash]map[string][]diff.Transformation)
		}
		nData, err := fetch(n.Data)
		if err != nil {
			return err
		}
		for _, p := range preds {
			pn, ok := tree.ByHash[p]
			if !ok {
				continue
			}
			pn.Successors = appendUnique(pn.Successors, n.Hash)
			if pn.Data.IsZero() {
				n.PredecessorDiff[p] = nil
				continue
			}
			pData, err := fetch(pn.Data)
			if err != nil {
				return err
			}
			d, err := diffFn(pData, nData)
			if err != nil {
				return err
			}
			n.PredecessorDiff[p] = d
		}
	}
	return nil
}

func appendUnique(list []core.Hash, h core.Hash) []core.Hash {
	for _, existing := range list {
		if existing == h {
			return list
		}
	}
	return append(list, h)
}
