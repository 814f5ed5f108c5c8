// Package iterator implements the Object Iterator (§4.3): a uniform driver
// over one or more objects of the same recipe. Diff, merge, reference
// discovery and accessible-hash computation all walk objects through this
// single entry point instead of re-implementing recipe-order traversal.
package iterator

import (
	"fmt"
	"strings"

	"onecore/core/object"
	"onecore/core/recipe"
)

// Strategy controls whether and how a container field is recursed into.
type Strategy string

const (
	// StrategyParallel recurses once over all input objects' corresponding
	// element positions together.
	StrategyParallel Strategy = "parallel"
	// StrategySeparate recurses once per object, independently.
	StrategySeparate Strategy = "separate"
	// StrategyOff does not descend into the field.
	StrategyOff Strategy = "off"
)

// keyMarker disambiguates a map-key walk's path from the corresponding
// value walk, per the ".!key!KEY" syntax of §4.3.
const keyMarker = "!key!"

// Resolver looks up the recipe for a nested object type, needed when
// recursing into KindObject fields or referenced objects.
type Resolver func(typeName string) (*recipe.Recipe, bool)

// FieldContext is passed to a Visit callback for one field (or container
// element) across the set of objects being iterated in lockstep.
type FieldContext struct {
	// Values holds one entry per input object, in input order (the zero
	// Value where that object lacks the field); Present parallels it,
	// reporting whether object i has the field.
	Values  []object.Value
	Present []bool

	ValueType     recipe.ItemType
	Path          string
	CrdtAlgorithm string

	objs  []*object.Object
	field string
}

// SetValue mutates the field's value on input object i. v == nil deletes
// the field from object i, whether or not its rule is optional. Only
// top-level field contexts carry the input objects: for container-element
// and map-entry contexts SetValue changes nothing, so it cannot remove a
// single map entry.
func (fc *FieldContext) SetValue(i int, v *object.Value, onChange func(path string, i int, v *object.Value)) {
	if i < 0 || i >= len(fc.objs) || fc.objs[i] == nil {
		return
	}
	if v == nil {
		delete(fc.objs[i].Fields, fc.field)
	} else {
		fc.objs[i].Fields[fc.field] = *v
	}
	if onChange != nil {
		onChange(fc.Path, i, v)
	}
}

// Visit is invoked once per field encountered during iteration. For
// container fields (array/bag/set) the returned Strategy controls whether
// Iterate recurses into element positions. For KindMap fields set
// Options.MapVisit (a MapVisit) to get independent key/value strategies.
type Visit func(fc *FieldContext) Strategy

// MapVisit is invoked once per KindMap field and returns independent
// strategies for the key walk and the value walk.
type MapVisit func(fc *FieldContext) (keyStrategy, valueStrategy Strategy)

// Options configures one Iterate call.
type Options struct {
	Resolve       Resolver
	MapVisit      MapVisit
	OnValueChange func(path string, i int, v *object.Value)
}

// Iterate walks r's fields in recipe order over objs (which must all be
// instances of r's type, though absent optional fields are tolerated).
// visit is called once per top-level field, and recursively once per
// descended container element or nested object field.
func Iterate(objs []*object.Object, r *recipe.Recipe, visit Visit, opts Options) error {
	return iterateRules(objs, r, r.Rules, "", visit, opts)
}

func iterateRules(objs []*object.Object, root *recipe.Recipe, rules []recipe.RecipeRule, prefix string, visit Visit, opts Options) error {
	for _, rule := range rules {
		path := rule.ItemProp
		if prefix != "" {
			path = prefix + "." + rule.ItemProp
		}
		values, present := gatherField(objs, rule.ItemProp)
		fc := &FieldContext{
			Values:        values,
			Present:       present,
			ValueType:     rule.ItemType,
			Path:          path,
			CrdtAlgorithm: resolveAlgorithm(root, rule, path),
			objs:          objs,
			field:         rule.ItemProp,
		}

		if rule.ItemType.Kind == recipe.KindMap {
			keyStrat, valStrat := StrategyOff, StrategyOff
			if opts.MapVisit != nil {
				keyStrat, valStrat = opts.MapVisit(fc)
			} else if visit != nil {
				s := visit(fc)
				keyStrat, valStrat = s, s
			}
			if err := descendMap(objs, root, rule, path, keyStrat, valStrat, visit, opts); err != nil {
				return err
			}
			continue
		}

		var strategy Strategy = StrategyOff
		if visit != nil {
			strategy = visit(fc)
		}

		switch {
		case rule.ItemType.Kind == recipe.KindObject && strategy != StrategyOff:
			if err := descendObject(objs, root, rule, path, strategy, visit, opts); err != nil {
				return err
			}
		case rule.ItemType.Kind.IsContainer() && strategy != StrategyOff:
			if err := descendContainer(objs, root, rule, path, strategy, visit, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func gatherField(objs []*object.Object, field string) ([]object.Value, []bool) {
	values := make([]object.Value, len(objs))
	present := make([]bool, len(objs))
	for i, o := range objs {
		if o == nil {
			continue
		}
		if v, ok := o.Fields[field]; ok {
			values[i] = v
			present[i] = true
		}
	}
	return values, present
}

// resolveAlgorithm resolves the CRDT algorithm id for path: an explicit
// crdtConfig entry on root wins, otherwise "Set" for bag/array/set fields,
// "OptionalValue" for map fields (and, when the owning rule is itself
// optional, any other field), and "Standard" for everything else (§4.6).
func resolveAlgorithm(root *recipe.Recipe, rule recipe.RecipeRule, path string) string {
	if root != nil {
		if id := root.CrdtAlgorithmFor(path); id != "" {
			return id
		}
	}
	if rule.ItemType.Kind.IsContainer() {
		return "Set"
	}
	if rule.ItemType.Kind == recipe.KindMap {
		return "OptionalValue"
	}
	if rule.Optional {
		return "OptionalValue"
	}
	return "Standard"
}

func descendObject(objs []*object.Object, root *recipe.Recipe, rule recipe.RecipeRule, path string, strategy Strategy, visit Visit, opts Options) error {
	nestedOf := func(o *object.Object) *object.Object {
		if o == nil {
			return nil
		}
		if v, ok := o.Fields[rule.ItemProp]; ok && v.Nested != nil {
			return v.Nested
		}
		return nil
	}
	switch strategy {
	case StrategyParallel:
		nested := make([]*object.Object, len(objs))
		for i, o := range objs {
			nested[i] = nestedOf(o)
		}
		return iterateRules(nested, root, rule.ItemType.Rules, path, visit, opts)
	case StrategySeparate:
		for _, o := range objs {
			n := nestedOf(o)
			if n == nil {
				continue
			}
			if err := iterateRules([]*object.Object{n}, root, rule.ItemType.Rules, path, visit, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func descendContainer(objs []*object.Object, root *recipe.Recipe, rule recipe.RecipeRule, path string, strategy Strategy, visit Visit, opts Options) error {
	elemType := rule.ItemType.Element
	if elemType == nil {
		return fmt.Errorf("iterator: container field %q has no element type", rule.ItemProp)
	}
	switch strategy {
	case StrategyParallel:
		max := 0
		for _, o := range objs {
			if o == nil {
				continue
			}
			if v, ok := o.Fields[rule.ItemProp]; ok && len(v.Elements) > max {
				max = len(v.Elements)
			}
		}
		for idx := 0; idx < max; idx++ {
			values := make([]object.Value, len(objs))
			present := make([]bool, len(objs))
			for i, o := range objs {
				if o == nil {
					continue
				}
				v, ok := o.Fields[rule.ItemProp]
				if !ok || idx >= len(v.Elements) {
					continue
				}
				values[i] = v.Elements[idx]
				present[i] = true
			}
			elemPath := fmt.Sprintf("%s.[%d]", path, idx)
			fc := &FieldContext{Values: values, Present: present, ValueType: *elemType, Path: elemPath}
			var elemStrategy Strategy = StrategyOff
			if visit != nil {
				elemStrategy = visit(fc)
			}
			if elemType.Kind == recipe.KindObject && elemStrategy != StrategyOff {
				nested := make([]*object.Object, len(objs))
				for i := range objs {
					if present[i] {
						nested[i] = values[i].Nested
					}
				}
				if err := iterateRules(nested, root, elemType.Rules, elemPath, visit, opts); err != nil {
					return err
				}
			}
		}
	case StrategySeparate:
		for oi, o := range objs {
			if o == nil {
				continue
			}
			v, ok := o.Fields[rule.ItemProp]
			if !ok {
				continue
			}
			for idx, elem := range v.Elements {
				elemPath := fmt.Sprintf("%s.[%d]", path, idx)
				fc := &FieldContext{
					Values:  []object.Value{elem},
					Present: []bool{true},
					ValueType: *elemType, Path: elemPath,
				}
				var elemStrategy Strategy = StrategyOff
				if visit != nil {
					elemStrategy = visit(fc)
				}
				if elemType.Kind == recipe.KindObject && elemStrategy != StrategyOff {
					if err := iterateRules([]*object.Object{elem.Nested}, root, elemType.Rules, elemPath, visit, opts); err != nil {
						return err
					}
				}
			}
			_ = oi
		}
	}
	return nil
}

func descendMap(objs []*object.Object, root *recipe.Recipe, rule recipe.RecipeRule, path string, keyStrat, valStrat Strategy, visit Visit, opts Options) error {
	keyType := rule.ItemType.MapKey
	valType := rule.ItemType.MapValue
	if keyType == nil || valType == nil {
		return fmt.Errorf("iterator: map field %q missing key/value type", rule.ItemProp)
	}
	if keyStrat != StrategyOff {
		if err := walkMapSide(objs, rule.ItemProp, path, *keyType, true, keyStrat, visit, opts); err != nil {
			return err
		}
	}
	if valStrat != StrategyOff {
		if err := walkMapSide(objs, rule.ItemProp, path, *valType, false, valStrat, visit, opts); err != nil {
			return err
		}
	}
	return nil
}

// entryPath builds one map entry's path per §4.3's ".!key!KEY" syntax: a
// key walk's path carries the marker plus the entry's own canonical key
// string, keeping it disjoint from the paired value walk's path, which
// carries the same key string without the marker.
func entryPath(path string, key object.Value, isKey bool) string {
	keyStr := object.CanonicalString(key)
	if isKey {
		return path + "." + keyMarker + keyStr
	}
	return path + "." + keyStr
}

func walkMapSide(objs []*object.Object, field, path string, elemType recipe.ItemType, isKey bool, strategy Strategy, visit Visit, opts Options) error {
	max := 0
	for _, o := range objs {
		if o == nil {
			continue
		}
		if v, ok := o.Fields[field]; ok && len(v.Entries) > max {
			max = len(v.Entries)
		}
	}
	pick := func(e object.MapEntry) object.Value {
		if isKey {
			return e.Key
		}
		return e.Value
	}
	switch strategy {
	case StrategyParallel:
		for idx := 0; idx < max; idx++ {
			values := make([]object.Value, len(objs))
			present := make([]bool, len(objs))
			var key object.Value
			haveKey := false
			for i, o := range objs {
				if o == nil {
					continue
				}
				v, ok := o.Fields[field]
				if !ok || idx >= len(v.Entries) {
					continue
				}
				values[i] = pick(v.Entries[idx])
				present[i] = true
				if !haveKey {
					key = v.Entries[idx].Key
					haveKey = true
				}
			}
			fc := &FieldContext{Values: values, Present: present, ValueType: elemType, Path: entryPath(path, key, isKey)}
			if visit != nil {
				visit(fc)
			}
		}
	case StrategySeparate:
		for _, o := range objs {
			if o == nil {
				continue
			}
			v, ok := o.Fields[field]
			if !ok {
				continue
			}
			for _, e := range v.Entries {
				fc := &FieldContext{Values: []object.Value{pick(e)}, Present: []bool{true}, ValueType: elemType, Path: entryPath(path, e.Key, isKey)}
				if visit != nil {
					visit(fc)
				}
			}
		}
	}
	return nil
}

// IsKeyPath reports whether path denotes a map-key walk rather than its
// paired value walk.
func IsKeyPath(path string) bool {
	return strings.Contains(path, "."+keyMarker)
}
