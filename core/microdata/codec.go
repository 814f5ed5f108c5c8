// Package microdata implements the deterministic, HTML-like serialization
// of recipe-typed objects ("microdata"), the matching parser, the
// object-hash / id-hash helpers, a string-level reference scanner, and
// implode (recursive hash-link inlining). The canonical form is specified in
// spec.md §4.2; this file is the serializer half.
package microdata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/pkg/errcode"
)

func marshalRaw(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errcode.Wrap(errcode.TypeMismatch, "stringifiable value not JSON-encodable", err)
	}
	return string(b), nil
}

func unmarshalRaw(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, errcode.Wrap(errcode.MalformedMicrodata, "stringifiable value not valid JSON", err)
	}
	return v, nil
}

const typePrefix = "//refin.io/"

// Serialize renders obj (of recipe r) into its canonical microdata string.
// Optional fields set to absent (not present in obj.Fields) are omitted.
func Serialize(obj *object.Object, r *recipe.Recipe) (string, error) {
	return serializeTop(obj, r.Rules, false)
}

// SerializeIdProjection renders the id-projection of obj: only r's identity
// fields, in rule order, with the data-id-object marker set so that an
// id-hash can never collide with a concrete object hash (spec §3).
func SerializeIdProjection(obj *object.Object, r *recipe.Recipe) (string, error) {
	idRules := object.IdRules(r)
	idObj := object.IdProjection(r, obj)
	return serializeTop(idObj, idRules, true)
}

func serializeTop(obj *object.Object, rules []recipe.RecipeRule, idObject bool) (string, error) {
	var b strings.Builder
	b.WriteString("<div ")
	if idObject {
		b.WriteString(`data-id-object="true" `)
	}
	b.WriteString(`itemscope itemtype="`)
	b.WriteString(typePrefix)
	b.WriteString(obj.Type)
	b.WriteString(`">`)
	if err := serializeFields(&b, rules, obj); err != nil {
		return "", err
	}
	b.WriteString("</div>")
	return b.String(), nil
}

func serializeFields(b *strings.Builder, rules []recipe.RecipeRule, obj *object.Object) error {
	for _, rule := range rules {
		v, present := obj.Fields[rule.ItemProp]
		if !present {
			if rule.Optional {
				continue
			}
			return errcode.New(errcode.MalformedMicrodata,
				fmt.Sprintf("required field %q missing", rule.ItemProp)).WithDetail("field", rule.ItemProp)
		}
		if err := serializeField(b, rule.ItemProp, rule.ItemType, v); err != nil {
			return err
		}
	}
	return nil
}

func serializeField(b *strings.Builder, name string, it recipe.ItemType, v object.Value) error {
	switch it.Kind {
	case recipe.KindReferenceToObj, recipe.KindReferenceToId, recipe.KindReferenceToClob, recipe.KindReferenceToBlob:
		hex, err := linkHex(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, `<a itemprop="%s" data-type="%s" href="%s">%s</a>`, escapeText(name), linkTypeAttr(it.Kind), hex, hex)
		return nil
	case recipe.KindObject:
		fmt.Fprintf(b, `<span itemprop="%s">`, escapeText(name))
		if err := serializeFields(b, it.Rules, v.Nested); err != nil {
			return err
		}
		b.WriteString("</span>")
		return nil
	case recipe.KindBag, recipe.KindArray, recipe.KindSet:
		fmt.Fprintf(b, `<span itemprop="%s">`, escapeText(name))
		elements := v.Elements
		if it.Kind == recipe.KindSet {
			elements = canonicalOrder(elements)
		}
		for _, e := range elements {
			if err := serializeElement(b, *it.Element, e); err != nil {
				return err
			}
		}
		b.WriteString("</span>")
		return nil
	case recipe.KindMap:
		fmt.Fprintf(b, `<span itemprop="%s">`, escapeText(name))
		entries := canonicalMapOrder(v.Entries)
		for _, e := range entries {
			b.WriteString("<span>")
			if err := serializeElement(b, *it.MapKey, e.Key); err != nil {
				return err
			}
			if err := serializeElement(b, *it.MapValue, e.Value); err != nil {
				return err
			}
			b.WriteString("</span>")
		}
		b.WriteString("</span>")
		return nil
	default:
		text, err := leafText(it, v)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, `<span itemprop="%s">%s</span>`, escapeText(name), escapeText(text))
		return nil
	}
}

// serializeElement serializes a collection/map element without an itemprop
// attribute; its field name is inherited from the nearest enclosing span.
func serializeElement(b *strings.Builder, it recipe.ItemType, v object.Value) error {
	switch it.Kind {
	case recipe.KindReferenceToObj, recipe.KindReferenceToId, recipe.KindReferenceToClob, recipe.KindReferenceToBlob:
		hex, err := linkHex(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, `<a data-type="%s" href="%s">%s</a>`, linkTypeAttr(it.Kind), hex, hex)
		return nil
	case recipe.KindObject:
		b.WriteString("<span itemscope>")
		if err := serializeFields(b, it.Rules, v.Nested); err != nil {
			return err
		}
		b.WriteString("</span>")
		return nil
	case recipe.KindBag, recipe.KindArray, recipe.KindSet:
		b.WriteString("<span>")
		elements := v.Elements
		if it.Kind == recipe.KindSet {
			elements = canonicalOrder(elements)
		}
		for _, e := range elements {
			if err := serializeElement(b, *it.Element, e); err != nil {
				return err
			}
		}
		b.WriteString("</span>")
		return nil
	case recipe.KindMap:
		b.WriteString("<span>")
		entries := canonicalMapOrder(v.Entries)
		for _, e := range entries {
			b.WriteString("<span>")
			if err := serializeElement(b, *it.MapKey, e.Key); err != nil {
				return err
			}
			if err := serializeElement(b, *it.MapValue, e.Value); err != nil {
				return err
			}
			b.WriteString("</span>")
		}
		b.WriteString("</span>")
		return nil
	default:
		text, err := leafText(it, v)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, `<span>%s</span>`, escapeText(text))
		return nil
	}
}

func linkHex(v object.Value) (string, error) {
	if v.LinkKind == core.LinkId {
		if v.IdHash.IsZero() {
			return "", errcode.New(errcode.MalformedMicrodata, "reference field has zero id-hash")
		}
		return v.IdHash.String(), nil
	}
	if v.Hash.IsZero() {
		return "", errcode.New(errcode.MalformedMicrodata, "reference field has zero hash")
	}
	return v.Hash.String(), nil
}

func linkTypeAttr(k recipe.Kind) string {
	switch k {
	case recipe.KindReferenceToObj:
		return string(core.LinkObj)
	case recipe.KindReferenceToId:
		return string(core.LinkId)
	case recipe.KindReferenceToClob:
		return string(core.LinkClob)
	case recipe.KindReferenceToBlob:
		return string(core.LinkBlob)
	}
	return ""
}

func leafText(it recipe.ItemType, v object.Value) (string, error) {
	switch it.Kind {
	case recipe.KindString:
		return v.Str, nil
	case recipe.KindInteger:
		return strconv.FormatInt(v.Int, 10), nil
	case recipe.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), nil
	case recipe.KindBoolean:
		return strconv.FormatBool(v.Bool), nil
	case recipe.KindStringifiable:
		return marshalRaw(v.Raw)
	}
	return "", errcode.New(errcode.TypeMismatch, fmt.Sprintf("unsupported leaf kind %q", it.Kind))
}

// canonicalOrder sorts set elements by their canonical string form ascending,
// so that two sets with identical contents always serialize identically.
func canonicalOrder(elements []object.Value) []object.Value {
	out := make([]object.Value, len(elements))
	copy(out, elements)
	sort.Slice(out, func(i, j int) bool {
		return object.CanonicalString(out[i]) < object.CanonicalString(out[j])
	})
	return out
}

func canonicalMapOrder(entries []object.MapEntry) []object.MapEntry {
	out := make([]object.MapEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return object.CanonicalString(out[i].Key) < object.CanonicalString(out[j].Key)
	})
	return out
}
