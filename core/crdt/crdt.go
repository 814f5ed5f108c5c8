// Package crdt implements the CRDT Algorithm Dispatch (§4.6): a registry of
// named merge algorithms operating over a subpath-projected version tree,
// resolved per field by the recipe's crdtConfig or a per-kind default.
package crdt

import (
	"bytes"
	"sort"

	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/pkg/errcode"
)

// AlgoType names the shape of field a registered Algorithm may be applied
// to, enforced at dispatch time (mismatch is AlgorithmTypeMismatch).
type AlgoType string

const (
	AlgoTypeLeaf      AlgoType = "leaf"      // string/integer/number/boolean/reference
	AlgoTypeContainer AlgoType = "container" // bag/array/set
	AlgoTypeOptional  AlgoType = "optional"  // objectProperty/mapEntry
)

// MergeInput is everything an Algorithm needs to merge one field's value
// between two heads of the same id's version tree.
type MergeInput struct {
	Tree  *versiongraph.Tree
	Head1 core.Hash
	Head2 core.Hash
	Path  string

	// Projected maps a version-node hash to the field value found at Path
	// in that node's concrete object (absent entries mean the field was not
	// present on that version), per versiongraph.Project.
	Projected map[core.Hash]object.Value

	// RecurseObjectRef is consulted by the ReferenceToObject algorithm when
	// both sides reference a versioned object; it merges the two referenced
	// ids and returns the resulting concrete hash. Supplied by the caller
	// (the Merge Coordinator) to avoid an import cycle; nil means always
	// fall back to Standard.
	RecurseObjectRef func(id core.IdHash, h1, h2 core.Hash) (core.Hash, error)
}

// Algorithm merges MergeInput into a single resulting Value.
type Algorithm interface {
	Type() AlgoType
	Merge(in MergeInput) (object.Value, error)
}

// registry is the process-wide table of named algorithms, matching
// spec.md's "algorithms registered under IDs" — there is exactly one fixed
// set, so a package-level table (rather than a per-instance one, unlike
// core/recipe.Registry) is appropriate.
var registry = map[string]Algorithm{
	"Standard":          standardAlgo{},
	"Set":               setAlgo{},
	"OptionalValue":     optionalAlgo{},
	"ReferenceToObject": referenceAlgo{},
}

// Resolve looks up algoID and checks it against fieldKind, returning
// AlgorithmTypeMismatch if the algorithm's declared Type() does not apply
// to that field kind.
func Resolve(algoID string, fieldKind recipe.Kind) (Algorithm, error) {
	algo, ok := registry[algoID]
	if !ok {
		return nil, errcode.New(errcode.AlgorithmTypeMismatch, "unknown CRDT algorithm id: "+algoID)
	}
	if !typeMatches(algo.Type(), fieldKind) {
		return nil, errcode.New(errcode.AlgorithmTypeMismatch,
			"CRDT algorithm "+algoID+" does not apply to field kind "+string(fieldKind))
	}
	return algo, nil
}

func typeMatches(t AlgoType, kind recipe.Kind) bool {
	switch t {
	case AlgoTypeContainer:
		return kind.IsContainer()
	case AlgoTypeLeaf:
		return !kind.IsContainer() && kind != recipe.KindMap
	case AlgoTypeOptional:
		return true // objectProperty/mapEntry apply regardless of leaf kind
	}
	return false
}

// nodeOf looks up a node, tolerating trees that don't contain it (the zero
// hash, representing "no predecessor" / absent).
func nodeOf(tree *versiongraph.Tree, h core.Hash) *versiongraph.Node {
	if tree == nil || h.IsZero() {
		return nil
	}
	return tree.ByHash[h]
}

// standardAlgo is last-writer-wins: highest creationTime wins, ties broken
// by lexicographically larger concrete object hash.
type standardAlgo struct{}

func (standardAlgo) Type() AlgoType { return AlgoTypeLeaf }

func (standardAlgo) Merge(in MergeInput) (object.Value, error) {
	v1, ok1 := in.Projected[in.Head1]
	v2, ok2 := in.Projected[in.Head2]
	switch {
	case !ok1 && !ok2:
		return object.Value{}, nil
	case !ok1:
		return v2, nil
	case !ok2:
		return v1, nil
	}
	n1, n2 := nodeOf(in.Tree, in.Head1), nodeOf(in.Tree, in.Head2)
	if n1 == nil || n2 == nil {
		return v1, nil
	}
	if n1.CreationTime != n2.CreationTime {
		if n1.CreationTime > n2.CreationTime {
			return v1, nil
		}
		return v2, nil
	}
	if bytes.Compare(n1.Data[:], n2.Data[:]) >= 0 {
		return v1, nil
	}
	return v2, nil
}

// setAlgo implements the three-way Set merge of §4.6 for bag/array/set
// container fields.
type setAlgo struct{}

func (setAlgo) Type() AlgoType { return AlgoTypeContainer }

func (setAlgo) Merge(in MergeInput) (object.Value, error) {
	ancestorElems, kind := elementsAt(in, commonAncestor(in))
	h1Elems, k1 := elementsAt(in, in.Head1)
	h2Elems, k2 := elementsAt(in, in.Head2)
	if kind == "" {
		kind = k1
	}
	if kind == "" {
		kind = k2
	}

	inAncestor := toMembership(ancestorElems)
	inH1 := toMembership(h1Elems)
	inH2 := toMembership(h2Elems)
	byKey := make(map[string]object.Value)
	for k, v := range inAncestor {
		byKey[k] = v
	}
	for k, v := range inH1 {
		byKey[k] = v
	}
	for k, v := range inH2 {
		byKey[k] = v
	}

	var resultKeys []string
	for k := range byKey {
		_, a := inAncestor[k]
		_, p1 := inH1[k]
		_, p2 := inH2[k]
		switch {
		case p1 == p2:
			if p1 {
				resultKeys = append(resultKeys, k)
			}
		case a == p1:
			// h1 matches ancestor (unchanged); h2 is the side that changed.
			if p2 {
				resultKeys = append(resultKeys, k)
			}
		case a == p2:
			if p1 {
				resultKeys = append(resultKeys, k)
			}
		default:
			// Both sides diverge from a baseline with no shared signal:
			// prefer add over remove per the Set comparator.
			resultKeys = append(resultKeys, k)
		}
	}
	sort.Strings(resultKeys)

	elems := make([]object.Value, 0, len(resultKeys))
	for _, k := range resultKeys {
		elems = append(elems, byKey[k])
	}
	return object.Value{Kind: kind, Elements: elems}, nil
}

func commonAncestor(in MergeInput) core.Hash {
	// The tree built by versiongraph.BuildUntilCommonHistory contains every
	// node down to the common ancestor; its single-element frontier result
	// is not carried on MergeInput, so the deepest node with no recorded
	// descendant-only relation to either head is approximated as the
	// shallowest node in the tree (roots/the oldest retained node).
	if in.Tree == nil || len(in.Tree.Nodes) == 0 {
		return core.Hash{}
	}
	deepest := in.Tree.Nodes[len(in.Tree.Nodes)-1]
	for _, n := range in.Tree.Nodes {
		if n.Depth < deepest.Depth {
			deepest = n
		}
	}
	return deepest.Hash
}

func elementsAt(in MergeInput, h core.Hash) ([]object.Value, recipe.Kind) {
	v, ok := in.Projected[h]
	if !ok {
		return nil, ""
	}
	return v.Elements, v.Kind
}

func toMembership(elems []object.Value) map[string]object.Value {
	out := make(map[string]object.Value, len(elems))
	for _, e := range elems {
		out[object.CanonicalString(e)] = e
	}
	return out
}

// optionalAlgo merges the (present, value) pair for objectProperty/mapEntry
// fields: if both sides agree, forward; otherwise the side that is not a
// delete wins unless a later delete overrides it (decided by creationTime,
// same comparator as Standard).
type optionalAlgo struct{}

func (optionalAlgo) Type() AlgoType { return AlgoTypeOptional }

func (optionalAlgo) Merge(in MergeInput) (object.Value, error) {
	v1, ok1 := in.Projected[in.Head1]
	v2, ok2 := in.Projected[in.Head2]
	if ok1 == ok2 {
		if ok1 && object.CanonicalString(v1) == object.CanonicalString(v2) {
			return v1, nil
		}
		// Both present but differ, or both absent: fall back to Standard's
		// creationTime/hash comparator.
		return standardAlgo{}.Merge(in)
	}
	// One side deletes (absent), the other sets: the more recent
	// non-delete wins unless a later delete overrides it.
	n1, n2 := nodeOf(in.Tree, in.Head1), nodeOf(in.Tree, in.Head2)
	if n1 == nil || n2 == nil {
		if ok1 {
			return v1, nil
		}
		return v2, nil
	}
	if n1.CreationTime >= n2.CreationTime {
		if ok1 {
			return v1, nil
		}
		return object.Value{}, nil
	}
	if ok2 {
		return v2, nil
	}
	return object.Value{}, nil
}

// referenceAlgo merges referenceToObj fields: if RecurseObjectRef is
// supplied and both sides reference the same versioned id, it recurses
// point-wise into the referenced object; otherwise it falls back to
// Standard selection between the two hash-links.
type referenceAlgo struct{}

func (referenceAlgo) Type() AlgoType { return AlgoTypeLeaf }

func (referenceAlgo) Merge(in MergeInput) (object.Value, error) {
	v1, ok1 := in.Projected[in.Head1]
	v2, ok2 := in.Projected[in.Head2]
	if ok1 && ok2 && in.RecurseObjectRef != nil &&
		v1.LinkKind == core.LinkId && v2.LinkKind == core.LinkId && v1.IdHash == v2.IdHash {
		merged, err := in.RecurseObjectRef(v1.IdHash, v1.Hash, v2.Hash)
		if err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: v1.Kind, LinkKind: v1.LinkKind, IdHash: v1.IdHash, Hash: merged}, nil
	}
	return standardAlgo{}.Merge(in)
}
