// Package object defines the in-memory representation of a typed object: a
// recipe name plus a field map of typed Values. This representation is what
// the microdata codec serializes/parses, what the iterator walks, what the
// diff engine compares, and what CRDT algorithms merge — a single shared
// shape avoids every subsystem inventing its own object model.
package object

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"onecore/core"
	"onecore/core/recipe"
)

// Value holds one field's data. Exactly the members relevant to Kind are
// populated; the rest are zero. This mirrors a small tagged union without
// reaching for an interface{} per leaf, which would lose the itemtype at the
// point diff/CRDT dispatch needs it most.
type Value struct {
	Kind recipe.Kind

	Str  string
	Int  int64
	Num  float64
	Bool bool

	// KindReferenceTo{Obj,Id,Clob,Blob}
	LinkKind core.LinkKind
	Hash     core.Hash
	IdHash   core.IdHash

	// KindBag / KindArray / KindSet
	Elements []Value

	// KindMap
	Entries []MapEntry

	// KindObject
	Nested *Object

	// KindStringifiable: arbitrary JSON-marshalable value
	Raw any

	// Value has no presence flag: an absent optional field is represented by
	// omitting it from Object.Fields.
}

// MapEntry is one key/value pair of a KindMap field.
type MapEntry struct {
	Key   Value
	Value Value
}

// Object is a concrete instance of a Recipe: a type name plus its field
// values, keyed by itemprop. Optional fields that are absent are simply not
// present in Fields.
type Object struct {
	Type   string
	Fields map[string]Value
}

// NewObject returns an empty Object of the given type.
func NewObject(typeName string) *Object {
	return &Object{Type: typeName, Fields: make(map[string]Value)}
}

// Clone returns a deep copy of obj.
func (obj *Object) Clone() *Object {
	out := NewObject(obj.Type)
	for k, v := range obj.Fields {
		out.Fields[k] = v.Clone()
	}
	return out
}

func (v Value) Clone() Value {
	out := v
	if v.Elements != nil {
		out.Elements = make([]Value, len(v.Elements))
		for i, e := range v.Elements {
			out.Elements[i] = e.Clone()
		}
	}
	if v.Entries != nil {
		out.Entries = make([]MapEntry, len(v.Entries))
		for i, e := range v.Entries {
			out.Entries[i] = MapEntry{Key: e.Key.Clone(), Value: e.Value.Clone()}
		}
	}
	if v.Nested != nil {
		out.Nested = v.Nested.Clone()
	}
	return out
}

// SortedFieldNames returns obj's field names in recipe order, restricted to
// fields actually present in obj.
func SortedFieldNames(r *recipe.Recipe, obj *Object) []string {
	names := make([]string, 0, len(r.Rules))
	for _, rule := range r.Rules {
		if _, ok := obj.Fields[rule.ItemProp]; ok {
			names = append(names, rule.ItemProp)
		}
	}
	return names
}

// IdProjection returns a new Object containing only r's identity fields,
// preserving rule order. Used to compute an object's id-hash.
func IdProjection(r *recipe.Recipe, obj *Object) *Object {
	out := NewObject(obj.Type)
	for _, rule := range r.Rules {
		if !rule.IsId {
			continue
		}
		if v, ok := obj.Fields[rule.ItemProp]; ok {
			out.Fields[rule.ItemProp] = v
		}
	}
	return out
}

// IdRules returns the subset of r.Rules with IsId set, in declared order.
func IdRules(r *recipe.Recipe) []recipe.RecipeRule {
	var out []recipe.RecipeRule
	for _, rule := range r.Rules {
		if rule.IsId {
			out = append(out, rule)
		}
	}
	return out
}

// CanonicalString renders a leaf Value (or a whole subtree) into the
// deterministic string form used to order Set elements and to compare
// bag/array elements for equality regardless of position. It does not
// require a recipe: the Value already carries its own Kind.
func CanonicalString(v Value) string {
	switch v.Kind {
	case recipe.KindString, recipe.KindStringifiable:
		if v.Kind == recipe.KindStringifiable {
			return stringifyRaw(v.Raw)
		}
		return v.Str
	case recipe.KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case recipe.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case recipe.KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case recipe.KindReferenceToObj, recipe.KindReferenceToId, recipe.KindReferenceToClob, recipe.KindReferenceToBlob:
		if v.LinkKind == core.LinkId {
			return string(v.LinkKind) + ":" + v.IdHash.String()
		}
		return string(v.LinkKind) + ":" + v.Hash.String()
	case recipe.KindObject:
		return canonicalObjectString(v.Nested)
	case recipe.KindBag, recipe.KindArray, recipe.KindSet:
		parts := make([]string, len(v.Elements))
		for i, e := range v.Elements {
			parts[i] = CanonicalString(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case recipe.KindMap:
		parts := make([]string, len(v.Entries))
		for i, e := range v.Entries {
			parts[i] = CanonicalString(e.Key) + "=" + CanonicalString(e.Value)
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return ""
}

// canonicalObjectString renders a nested Object deterministically by sorting
// its present field names; used only for canonical-string comparison (Set
// element equality), never for hashing, which always goes through the
// recipe-ordered microdata serializer.
func canonicalObjectString(obj *Object) string {
	if obj == nil {
		return "<nil>"
	}
	names := make([]string, 0, len(obj.Fields))
	for k := range obj.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ":" + CanonicalString(obj.Fields[n])
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func stringifyRaw(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
