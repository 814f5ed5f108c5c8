// Package merge implements the Merge Coordinator (§4.7): given two heads of
// one id's version history, builds the tree until common history, runs the
// iterator in parallel across both head objects dispatching each field to
// its CRDT algorithm, and persists the resulting Merge version-node.
package merge

import (
	"onecore/core"
	"onecore/core/crdt"
	"onecore/core/iterator"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/pkg/errcode"
)

// Mode distinguishes a merge triggered by a local edit conflict from one
// driven by the Chum importer processing a remote version-node (§4.9).
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Result is the outcome of a successful Merge call.
type Result struct {
	AlreadyMerged bool
	NewNodeHash   core.Hash
	Tree          *versiongraph.Tree
	Object        *object.Object
	IdHash        core.IdHash
}

// ObjectFetcher resolves a concrete object hash to its parsed object.
type ObjectFetcher func(h core.Hash) (*object.Object, error)

// Persister writes the merged concrete object and the resulting Merge
// version-node, returning the new node's hash.
type Persister interface {
	PersistObject(obj *object.Object, r *recipe.Recipe) (core.Hash, error)
	PersistMergeNode(n *versiongraph.Node) (core.Hash, error)
	CurrentTime() int64
}

// Coordinator runs merges for one recipe's versioned type.
type Coordinator struct {
	Recipe    *recipe.Recipe
	Source    versiongraph.NodeSource
	Fetch     ObjectFetcher
	Persist   Persister
	RecurseRef func(id core.IdHash, h1, h2 core.Hash) (core.Hash, error)
}

// Merge runs the Merge Coordinator algorithm of §4.7 for heads h1, h2.
func (c *Coordinator) Merge(idHash core.IdHash, h1, h2 core.Hash, mode Mode) (*Result, error) {
	tree, ancestor, alreadyMerged, err := versiongraph.BuildUntilCommonHistory(h1, h2, c.Source)
	if err != nil {
		return nil, err
	}
	if alreadyMerged {
		return &Result{AlreadyMerged: true, NewNodeHash: ancestor, Tree: tree, IdHash: idHash}, nil
	}

	n1, ok1 := tree.ByHash[h1]
	n2, ok2 := tree.ByHash[h2]
	if !ok1 || !ok2 {
		return nil, errcode.New(errcode.Internal, "merge: head not found in constructed tree")
	}

	// fetchNodeObject's errors already carry their code (CorruptObject for
	// an unparsable concrete object), so they are returned unwrapped.
	obj1, err := c.fetchNodeObject(n1)
	if err != nil {
		return nil, err
	}
	obj2, err := c.fetchNodeObject(n2)
	if err != nil {
		return nil, err
	}

	merged := object.NewObject(c.Recipe.Name)
	// Copy identity fields from either side (both must agree, since they
	// share an id-hash by construction).
	for _, rule := range object.IdRules(c.Recipe) {
		if v, ok := obj1.Fields[rule.ItemProp]; ok {
			merged.Fields[rule.ItemProp] = v
		} else if v, ok := obj2.Fields[rule.ItemProp]; ok {
			merged.Fields[rule.ItemProp] = v
		}
	}

	err = iterator.Iterate([]*object.Object{obj1, obj2}, c.Recipe, func(fc *iterator.FieldContext) iterator.Strategy {
		if err != nil {
			return iterator.StrategyOff
		}
		// Every top-level field (including nested "object" kind fields,
		// merged as an atomic unit via Standard) dispatches once here; the
		// coordinator never asks the iterator to descend further.
		projected, projErr := versiongraph.Project(tree, fc.Path, c.Fetch)
		if projErr != nil {
			err = projErr
			return iterator.StrategyOff
		}
		algo, algErr := crdt.Resolve(fc.CrdtAlgorithm, fc.ValueType.Kind)
		if algErr != nil {
			err = errcode.Wrap(errcode.AlgorithmTypeMismatch, "merge: resolving algorithm for "+fc.Path, algErr)
			return iterator.StrategyOff
		}
		value, mergeErr := algo.Merge(crdt.MergeInput{
			Tree: tree, Head1: h1, Head2: h2, Path: fc.Path,
			Projected:        projected,
			RecurseObjectRef: c.RecurseRef,
		})
		if mergeErr != nil {
			err = mergeErr
			return iterator.StrategyOff
		}
		if value.Kind != "" {
			merged.Fields[fc.Path] = value
		}
		return iterator.StrategyOff
	}, iterator.Options{})
	if err != nil {
		return nil, err
	}

	concreteHash, err := c.Persist.PersistObject(merged, c.Recipe)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "merge: persist merged object", err)
	}

	depth := 1 + maxInt(n1.Depth, n2.Depth)
	mergeNode := &versiongraph.Node{
		Kind:         versiongraph.KindMerge,
		Data:         concreteHash,
		Parents:      []core.Hash{h1, h2},
		CreationTime: c.Persist.CurrentTime(),
		Depth:        depth,
	}
	newNodeHash, err := c.Persist.PersistMergeNode(mergeNode)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "merge: persist merge node", err)
	}
	mergeNode.Hash = newNodeHash

	return &Result{
		NewNodeHash: newNodeHash,
		Tree:        tree,
		Object:      merged,
		IdHash:      idHash,
	}, nil
}

func (c *Coordinator) fetchNodeObject(n *versiongraph.Node) (*object.Object, error) {
	if n.Data.IsZero() {
		return nil, errcode.New(errcode.Internal, "merge: version-node has no concrete data")
	}
	obj, err := c.Fetch(n.Data)
	if err != nil {
		return nil, errcode.New(errcode.CorruptObject, "merge: failed to parse version-node's concrete object").WithDetail("cause", err.Error())
	}
	return obj, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
