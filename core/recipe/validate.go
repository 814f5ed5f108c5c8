package recipe

import (
	"fmt"
	"regexp"
	"strings"
)

// Validate checks every structural invariant a Recipe must satisfy before it
// can be registered. It does not resolve inheritance; see Registry.resolveRule.
func Validate(r *Recipe) error {
	if r.Name == "" {
		return fmt.Errorf("recipe: name must not be empty")
	}
	if len(r.Rules) == 0 {
		return fmt.Errorf("recipe %s: must declare at least one rule", r.Name)
	}
	seen := make(map[string]bool, len(r.Rules))
	for _, rule := range r.Rules {
		if seen[rule.ItemProp] {
			return fmt.Errorf("recipe %s: duplicate itemprop %q at top level", r.Name, rule.ItemProp)
		}
		seen[rule.ItemProp] = true
		if err := validateRule(r.Name, rule, true); err != nil {
			return err
		}
	}
	return nil
}

func validateRule(recipeName string, rule RecipeRule, topLevel bool) error {
	if err := validIdentifier(rule.ItemProp); err != nil {
		return fmt.Errorf("recipe %s: %w", recipeName, err)
	}
	if rule.IsId && !topLevel {
		return fmt.Errorf("recipe %s: field %q: isId is forbidden on nested rules", recipeName, rule.ItemProp)
	}
	if rule.InheritFrom != "" {
		if strings.Count(rule.InheritFrom, ".") < 1 {
			return fmt.Errorf("recipe %s: field %q: inheritFrom %q must have at least two segments", recipeName, rule.ItemProp, rule.InheritFrom)
		}
		// An inherited rule's itemtype is filled in later by resolution; a
		// zero Kind is therefore acceptable here.
		if rule.ItemType.Kind == "" {
			return nil
		}
	}
	return validateItemType(recipeName, rule.ItemProp, rule.ItemType)
}

func validateItemType(recipeName, field string, it ItemType) error {
	switch it.Kind {
	case KindString:
		if it.Regex != "" {
			if _, err := regexp.Compile(it.Regex); err != nil {
				return fmt.Errorf("recipe %s: field %q: invalid regex %q: %w", recipeName, field, it.Regex, err)
			}
		}
	case KindInteger, KindNumber:
		if it.Min != nil && it.Max != nil && *it.Min > *it.Max {
			return fmt.Errorf("recipe %s: field %q: min %v exceeds max %v", recipeName, field, *it.Min, *it.Max)
		}
	case KindBoolean, KindStringifiable, KindReferenceToId, KindReferenceToClob, KindReferenceToBlob:
		// no further constraints
	case KindReferenceToObj:
		if len(it.AllowedTypes) == 0 {
			return fmt.Errorf("recipe %s: field %q: referenceToObj requires a non-empty allowed-types set", recipeName, field)
		}
		seen := make(map[string]bool, len(it.AllowedTypes))
		for _, t := range it.AllowedTypes {
			if t == "" {
				return fmt.Errorf("recipe %s: field %q: empty allowed type", recipeName, field)
			}
			if seen[t] {
				return fmt.Errorf("recipe %s: field %q: duplicate allowed type %q", recipeName, field, t)
			}
			seen[t] = true
		}
	case KindMap:
		if it.MapKey == nil || it.MapValue == nil {
			return fmt.Errorf("recipe %s: field %q: map requires both a key and a value type", recipeName, field)
		}
		if nonKeyKinds[it.MapKey.Kind] {
			return fmt.Errorf("recipe %s: field %q: map key type %q may not be a container or stringifiable", recipeName, field, it.MapKey.Kind)
		}
		if err := validateItemType(recipeName, field+".!key!", *it.MapKey); err != nil {
			return err
		}
		if err := validateItemType(recipeName, field+".value", *it.MapValue); err != nil {
			return err
		}
	case KindBag, KindArray, KindSet:
		if it.Element == nil {
			return fmt.Errorf("recipe %s: field %q: %s requires an element type", recipeName, field, it.Kind)
		}
		if err := validateItemType(recipeName, field+"[]", *it.Element); err != nil {
			return err
		}
	case KindObject:
		if len(it.Rules) == 0 {
			return fmt.Errorf("recipe %s: field %q: nested object requires at least one rule", recipeName, field)
		}
		seen := make(map[string]bool, len(it.Rules))
		for _, nested := range it.Rules {
			if seen[nested.ItemProp] {
				return fmt.Errorf("recipe %s: field %q: duplicate nested itemprop %q", recipeName, field, nested.ItemProp)
			}
			seen[nested.ItemProp] = true
			if err := validateRule(recipeName, nested, false); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("recipe %s: field %q: unknown itemtype %q", recipeName, field, it.Kind)
	}
	return nil
}
