package recipe

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"onecore/pkg/errcode"
)

// Registry stores Recipes, validates them on insertion, and resolves rule
// inheritance. It is populated at instance startup and read-only afterwards;
// a process may hold multiple independent Registry instances (see the
// "global state" design note), each one an explicit handle rather than a
// package-level singleton.
type Registry struct {
	mu         sync.RWMutex
	recipes    map[string]*Recipe
	versioned  map[string]bool
	inheritMu  sync.Mutex
	resolving  map[string]bool // cycle guard for resolveRule, keyed by path
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		recipes:   make(map[string]*Recipe),
		versioned: make(map[string]bool),
		resolving: make(map[string]bool),
	}
}

// Register validates recipe and, on success, indexes it under recipe.Name.
// Inheritance (InheritFrom) is resolved eagerly here so that later lookups
// never need to re-walk the dependency graph.
func (reg *Registry) Register(r *Recipe) error {
	if err := Validate(r); err != nil {
		zap.L().Error("recipe: validation failed", zap.String("name", r.Name), zap.Error(err))
		return errcode.Wrap(errcode.RecipeInvalid, "recipe failed validation", err)
	}

	reg.mu.Lock()
	if _, exists := reg.recipes[r.Name]; exists {
		reg.mu.Unlock()
		return errcode.New(errcode.RecipeExists, fmt.Sprintf("recipe %q already registered", r.Name)).
			WithDetail("name", r.Name)
	}
	// Nothing is indexed until resolution below finishes, so concurrent Get
	// calls never see a partially resolved recipe; an inheritFrom naming
	// this recipe itself therefore fails as an unregistered type.
	reg.mu.Unlock()

	resolved := make([]RecipeRule, len(r.Rules))
	for i, rule := range r.Rules {
		rr, err := reg.resolveRule(rule)
		if err != nil {
			return err
		}
		resolved[i] = rr
	}

	versioned := false
	for _, rule := range resolved {
		if rule.IsId {
			versioned = true
			break
		}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.recipes[r.Name]; exists {
		return errcode.New(errcode.RecipeExists, fmt.Sprintf("recipe %q already registered", r.Name)).
			WithDetail("name", r.Name)
	}
	reg.recipes[r.Name] = &Recipe{Name: r.Name, Rules: resolved, CrdtConfig: r.CrdtConfig}
	reg.versioned[r.Name] = versioned
	zap.L().Sugar().Infof("recipe: registered %q (versioned=%t)", r.Name, versioned)
	return nil
}

// Get returns the registered (and inheritance-resolved) recipe for typeName.
func (reg *Registry) Get(typeName string) (*Recipe, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.recipes[typeName]
	if !ok {
		return nil, errcode.New(errcode.RecipeUnknown, fmt.Sprintf("recipe %q is not registered", typeName))
	}
	return r, nil
}

// IsVersioned reports whether typeName's recipe declares at least one
// top-level identity field.
func (reg *Registry) IsVersioned(typeName string) (bool, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	v, ok := reg.versioned[typeName]
	if !ok {
		return false, errcode.New(errcode.RecipeUnknown, fmt.Sprintf("recipe %q is not registered", typeName))
	}
	return v, nil
}

// Names returns every registered recipe's type name, in no particular
// order. Used by tooling that lists or inspects the registry (e.g. a
// `recipe` CLI subcommand or debug endpoint); the merge/microdata/iterator
// paths never need this and keep using Get.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.recipes))
	for name := range reg.recipes {
		names = append(names, name)
	}
	return names
}

// resolveRule materializes rule.InheritFrom, if set, into a concrete
// ItemType. Only the rule's own InheritFrom is resolved: rules nested inside
// its itemtype are not visited, so an InheritFrom on a nested rule is left
// unresolved. A visit-set keyed by the inheritFrom path guards against
// cycles. isId is never
// inherited: the rule's own IsId flag (set directly on the rule, never via
// inheritance) is preserved as-is.
func (reg *Registry) resolveRule(rule RecipeRule) (RecipeRule, error) {
	if rule.InheritFrom == "" {
		return rule, nil
	}

	reg.inheritMu.Lock()
	if reg.resolving[rule.InheritFrom] {
		reg.inheritMu.Unlock()
		return RecipeRule{}, errcode.New(errcode.RecipeInvalid,
			fmt.Sprintf("inheritFrom cycle detected at %q", rule.InheritFrom))
	}
	reg.resolving[rule.InheritFrom] = true
	reg.inheritMu.Unlock()
	defer func() {
		reg.inheritMu.Lock()
		delete(reg.resolving, rule.InheritFrom)
		reg.inheritMu.Unlock()
	}()

	segments := strings.Split(rule.InheritFrom, ".")
	if len(segments) < 2 {
		return RecipeRule{}, errcode.New(errcode.RecipeInvalid,
			fmt.Sprintf("inheritFrom %q must have at least two segments", rule.InheritFrom))
	}

	typeName := segments[0]
	reg.mu.RLock()
	source, ok := reg.recipes[typeName]
	reg.mu.RUnlock()
	if !ok {
		return RecipeRule{}, errcode.New(errcode.RecipeUnknown,
			fmt.Sprintf("inheritFrom %q references unregistered type %q", rule.InheritFrom, typeName))
	}

	srcRule, err := findRule(source.Rules, segments[1:])
	if err != nil {
		return RecipeRule{}, err
	}
	// Recipes are stored post-resolution, so a top-level source rule is
	// already concrete; a nested source rule keeps any InheritFrom of its own.

	result := rule
	switch {
	case rule.CollectionItemType:
		if !srcRule.ItemType.Kind.IsContainer() {
			return RecipeRule{}, errcode.New(errcode.RecipeInvalid,
				fmt.Sprintf("CollectionItemType requires source itemtype in {bag,array,set}, got %q", srcRule.ItemType.Kind))
		}
		if srcRule.ItemType.Element == nil {
			return RecipeRule{}, errcode.New(errcode.RecipeInvalid, "source collection has no element type")
		}
		result.ItemType = *srcRule.ItemType.Element
	case rule.MapItemType:
		if srcRule.ItemType.Kind != KindMap {
			return RecipeRule{}, errcode.New(errcode.RecipeInvalid,
				fmt.Sprintf("MapItemType requires source itemtype map, got %q", srcRule.ItemType.Kind))
		}
		if srcRule.ItemType.MapKey == nil || srcRule.ItemType.MapValue == nil {
			return RecipeRule{}, errcode.New(errcode.RecipeInvalid, "source map has no key/value type")
		}
		result.ItemType = ItemType{
			Kind: KindObject,
			Rules: []RecipeRule{
				{ItemProp: "key", ItemType: *srcRule.ItemType.MapKey},
				{ItemProp: "value", ItemType: *srcRule.ItemType.MapValue},
			},
		}
	default:
		result.ItemType = srcRule.ItemType
	}
	result.InheritFrom = ""
	result.CollectionItemType = false
	result.MapItemType = false
	return result, nil
}

// findRule walks path (a chain of itemprop segments) through rules,
// descending into KindObject rules' nested Rules.
func findRule(rules []RecipeRule, path []string) (RecipeRule, error) {
	if len(path) == 0 {
		return RecipeRule{}, errcode.New(errcode.RecipeInvalid, "empty inheritFrom field path")
	}
	head := path[0]
	for _, r := range rules {
		if r.ItemProp != head {
			continue
		}
		if len(path) == 1 {
			return r, nil
		}
		if r.ItemType.Kind != KindObject {
			return RecipeRule{}, errcode.New(errcode.RecipeInvalid,
				fmt.Sprintf("inheritFrom path segment %q is not a nested object", head))
		}
		return findRule(r.ItemType.Rules, path[1:])
	}
	return RecipeRule{}, errcode.New(errcode.RecipeInvalid,
		fmt.Sprintf("inheritFrom path segment %q not found", head))
}
