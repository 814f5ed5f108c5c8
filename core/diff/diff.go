// Package diff implements the Diff Engine (§4.4): given two objects of the
// same recipe, produce a path-keyed map of per-field transformation lists.
package diff

import (
	"onecore/core/iterator"
	"onecore/core/object"
	"onecore/core/recipe"
)

// Op is one transformation kind.
type Op string

const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Transformation describes one change at a path. Key is set for every
// map-entry add/set/remove; Value carries the new value for set/add, or the
// removed element for a container remove (a map-entry remove carries only
// Key).
type Transformation struct {
	Op    Op
	Key   *object.Value
	Value *object.Value
}

// Diff computes Map<path, []Transformation> between a (before) and b
// (after), both instances of r. Terminal fields yield `set`/`delete`;
// set/bag/array fields yield `add`/`remove` pairs computed by comparing
// canonical element strings so reordering alone never produces a diff.
func Diff(a, b *object.Object, r *recipe.Recipe) (map[string][]Transformation, error) {
	result := make(map[string][]Transformation)
	objs := []*object.Object{a, b}

	err := iterator.Iterate(objs, r, func(fc *iterator.FieldContext) iterator.Strategy {
		if fc.ValueType.Kind.IsContainer() {
			diffContainer(result, fc)
			return iterator.StrategyOff
		}
		if fc.ValueType.Kind == recipe.KindMap {
			return iterator.StrategyOff
		}
		diffLeaf(result, fc)
		return iterator.StrategyOff
	}, iterator.Options{
		MapVisit: func(fc *iterator.FieldContext) (iterator.Strategy, iterator.Strategy) {
			diffMap(result, fc)
			return iterator.StrategyOff, iterator.StrategyOff
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func diffLeaf(result map[string][]Transformation, fc *iterator.FieldContext) {
	beforePresent, afterPresent := fc.Present[0], fc.Present[1]
	before, after := fc.Values[0], fc.Values[1]

	switch {
	case !beforePresent && !afterPresent:
		return
	case beforePresent && !afterPresent:
		result[fc.Path] = append(result[fc.Path], Transformation{Op: OpDelete})
	case !beforePresent && afterPresent:
		v := after
		result[fc.Path] = append(result[fc.Path], Transformation{Op: OpSet, Value: &v})
	default:
		if object.CanonicalString(before) != object.CanonicalString(after) {
			v := after
			result[fc.Path] = append(result[fc.Path], Transformation{Op: OpSet, Value: &v})
		}
	}
}

func diffContainer(result map[string][]Transformation, fc *iterator.FieldContext) {
	before, after := fc.Values[0], fc.Values[1]
	beforeSet := make(map[string]object.Value, len(before.Elements))
	for _, e := range before.Elements {
		beforeSet[object.CanonicalString(e)] = e
	}
	afterSet := make(map[string]object.Value, len(after.Elements))
	for _, e := range after.Elements {
		afterSet[object.CanonicalString(e)] = e
	}

	for key, e := range afterSet {
		if _, ok := beforeSet[key]; !ok {
			v := e
			result[fc.Path] = append(result[fc.Path], Transformation{Op: OpAdd, Value: &v})
		}
	}
	for key, e := range beforeSet {
		if _, ok := afterSet[key]; !ok {
			v := e
			result[fc.Path] = append(result[fc.Path], Transformation{Op: OpRemove, Value: &v})
		}
	}
}

func diffMap(result map[string][]Transformation, fc *iterator.FieldContext) {
	before, after := fc.Values[0], fc.Values[1]
	beforeEntries := make(map[string]object.MapEntry, len(before.Entries))
	for _, e := range before.Entries {
		beforeEntries[object.CanonicalString(e.Key)] = e
	}
	afterEntries := make(map[string]object.MapEntry, len(after.Entries))
	for _, e := range after.Entries {
		afterEntries[object.CanonicalString(e.Key)] = e
	}

	for key, e := range afterEntries {
		be, existed := beforeEntries[key]
		if !existed {
			k, v := e.Key, e.Value
			result[fc.Path] = append(result[fc.Path], Transformation{Op: OpAdd, Key: &k, Value: &v})
			continue
		}
		if object.CanonicalString(be.Value) != object.CanonicalString(e.Value) {
			k, v := e.Key, e.Value
			result[fc.Path] = append(result[fc.Path], Transformation{Op: OpSet, Key: &k, Value: &v})
		}
	}
	for key, e := range beforeEntries {
		if _, ok := afterEntries[key]; !ok {
			k := e.Key
			result[fc.Path] = append(result[fc.Path], Transformation{Op: OpRemove, Key: &k})
		}
	}
}
