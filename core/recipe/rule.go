// Package recipe implements the Recipe Registry: an in-process table mapping
// type names to Recipes, each an ordered list of rules describing one
// object's fields. The registry enforces the structural invariants of the
// object model and resolves rule inheritance.
package recipe

import "fmt"

// Kind enumerates the field types a RecipeRule may declare.
type Kind string

const (
	KindString          Kind = "string"
	KindInteger         Kind = "integer"
	KindNumber          Kind = "number"
	KindBoolean         Kind = "boolean"
	KindReferenceToObj  Kind = "referenceToObj"
	KindReferenceToId   Kind = "referenceToId"
	KindReferenceToClob Kind = "referenceToClob"
	KindReferenceToBlob Kind = "referenceToBlob"
	KindMap             Kind = "map"
	KindBag             Kind = "bag"
	KindArray           Kind = "array"
	KindSet             Kind = "set"
	KindObject          Kind = "object"
	KindStringifiable   Kind = "stringifiable"
)

// nonKeyKinds are item types that may never be used as a map key.
var nonKeyKinds = map[Kind]bool{
	KindArray:         true,
	KindBag:           true,
	KindMap:           true,
	KindObject:        true,
	KindSet:           true,
	KindStringifiable: true,
}

// IsContainer reports whether k holds nested elements (as opposed to being a
// leaf value or a reference).
func (k Kind) IsContainer() bool {
	return k == KindBag || k == KindArray || k == KindSet
}

// ItemType describes the shape and constraints of one field's value.
type ItemType struct {
	Kind Kind

	// KindString
	Regex string

	// KindInteger / KindNumber
	Min *float64
	Max *float64

	// KindReferenceToObj
	AllowedTypes []string // type names; "*" means any type

	// KindMap
	MapKey   *ItemType
	MapValue *ItemType

	// KindBag / KindArray / KindSet
	Element *ItemType

	// KindObject
	Rules []RecipeRule
}

// RecipeRule describes one field of a Recipe.
type RecipeRule struct {
	ItemProp string
	IsId     bool
	Optional bool
	ItemType ItemType

	// InheritFrom names another rule by "Type.field[.field...]"; resolved
	// eagerly by the registry before the recipe is indexed.
	InheritFrom string

	// CollectionItemType, if set alongside InheritFrom, extracts the
	// element type of the source rule (which must be bag/array/set) instead
	// of copying the source rule's ItemType wholesale.
	CollectionItemType bool

	// MapItemType, if set alongside InheritFrom, extracts the source rule's
	// map entry (which must be of kind map) and rewrites this rule into an
	// object rule with "key" and "value" fields.
	MapItemType bool
}

// Recipe is an ordered list of rules describing one object type.
type Recipe struct {
	Name  string
	Rules []RecipeRule

	// CrdtConfig maps a dotted field path to a registered CRDT algorithm id,
	// overriding the per-Kind default resolved by core/iterator (§4.6).
	CrdtConfig map[string]string
}

// CrdtAlgorithmFor returns the algorithm id configured for path, or "" if
// path has no override and the caller should fall back to the per-Kind
// default.
func (r *Recipe) CrdtAlgorithmFor(path string) string {
	if r.CrdtConfig == nil {
		return ""
	}
	return r.CrdtConfig[path]
}

// validIdentifier enforces the itemprop character restrictions: no '<', '>',
// whitespace, or '.'.
func validIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("itemprop must not be empty")
	}
	for _, r := range s {
		switch {
		case r == '<' || r == '>' || r == '.':
			return fmt.Errorf("itemprop %q contains forbidden character %q", s, r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			return fmt.Errorf("itemprop %q contains whitespace", s)
		}
	}
	return nil
}
