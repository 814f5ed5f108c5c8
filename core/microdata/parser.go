package microdata

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/pkg/errcode"
)

type cursor struct {
	s   string
	pos int
}

func (c *cursor) rest() string { return c.s[c.pos:] }

func (c *cursor) startsWith(lit string) bool {
	return strings.HasPrefix(c.rest(), lit)
}

func (c *cursor) consumeLiteral(lit string) error {
	if !c.startsWith(lit) {
		got := c.rest()
		if len(got) > 24 {
			got = got[:24]
		}
		return errcode.New(errcode.MalformedMicrodata,
			fmt.Sprintf("expected %q at offset %d, found %q", lit, c.pos, got))
	}
	c.pos += len(lit)
	return nil
}

func (c *cursor) tryConsumeLiteral(lit string) bool {
	if c.startsWith(lit) {
		c.pos += len(lit)
		return true
	}
	return false
}

func (c *cursor) readUntil(delim byte) (string, error) {
	idx := strings.IndexByte(c.rest(), delim)
	if idx < 0 {
		return "", errcode.New(errcode.MalformedMicrodata, fmt.Sprintf("unterminated token at offset %d", c.pos))
	}
	s := c.rest()[:idx]
	c.pos += idx
	return s, nil
}

// Parse decodes a canonical microdata string into an Object, using reg to
// resolve the recipe named by the outer itemtype attribute. It rejects
// trailing garbage and unknown types.
func Parse(s string, reg *recipe.Registry) (*object.Object, *recipe.Recipe, error) {
	c := &cursor{s: s}
	obj, rec, idObject, err := parseTopLevel(c, reg)
	if err != nil {
		zap.L().Error("microdata: parse failed", zap.Error(err))
		return nil, nil, err
	}
	if c.pos != len(c.s) {
		err := errcode.New(errcode.MalformedMicrodata,
			fmt.Sprintf("trailing data after object: %q", truncate(c.rest(), 24)))
		zap.L().Error("microdata: parse failed", zap.Error(err))
		return nil, nil, err
	}
	_ = idObject
	return obj, rec, nil
}

// ParseIdObject decodes a canonical id-object microdata string (one with
// data-id-object="true"), returning only its identity-field values.
func ParseIdObject(s string, reg *recipe.Registry) (*object.Object, *recipe.Recipe, error) {
	obj, rec, idObject, err := parseTopLevel(&cursor{s: s}, reg)
	if err != nil {
		return nil, nil, err
	}
	if !idObject {
		return nil, nil, errcode.New(errcode.MalformedMicrodata, "expected an id-object but data-id-object marker is absent")
	}
	return obj, rec, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func parseTopLevel(c *cursor, reg *recipe.Registry) (*object.Object, *recipe.Recipe, bool, error) {
	if err := c.consumeLiteral("<div "); err != nil {
		return nil, nil, false, err
	}
	idObject := c.tryConsumeLiteral(`data-id-object="true" `)
	if err := c.consumeLiteral(`itemscope itemtype="` + typePrefix); err != nil {
		return nil, nil, false, err
	}
	typeName, err := c.readUntil('"')
	if err != nil {
		return nil, nil, false, err
	}
	if err := c.consumeLiteral(`">`); err != nil {
		return nil, nil, false, err
	}

	rec, err := reg.Get(typeName)
	if err != nil {
		return nil, nil, false, err
	}

	rules := rec.Rules
	if idObject {
		rules = object.IdRules(rec)
	}

	obj := object.NewObject(typeName)
	if err := parseFields(c, rules, obj); err != nil {
		return nil, nil, false, err
	}
	if err := c.consumeLiteral("</div>"); err != nil {
		return nil, nil, false, err
	}
	return obj, rec, idObject, nil
}

func parseFields(c *cursor, rules []recipe.RecipeRule, obj *object.Object) error {
	for _, rule := range rules {
		isRef := isReferenceKind(rule.ItemType.Kind)
		var openTag string
		if isRef {
			openTag = fmt.Sprintf(`<a itemprop="%s" `, escapeText(rule.ItemProp))
		} else {
			openTag = fmt.Sprintf(`<span itemprop="%s">`, escapeText(rule.ItemProp))
		}
		if !c.startsWith(openTag) {
			if rule.Optional {
				continue
			}
			return errcode.New(errcode.MalformedMicrodata,
				fmt.Sprintf("required field %q missing", rule.ItemProp)).WithDetail("field", rule.ItemProp)
		}
		v, err := parseField(c, rule.ItemType, rule.ItemProp)
		if err != nil {
			return err
		}
		obj.Fields[rule.ItemProp] = v
	}
	return nil
}

func isReferenceKind(k recipe.Kind) bool {
	switch k {
	case recipe.KindReferenceToObj, recipe.KindReferenceToId, recipe.KindReferenceToClob, recipe.KindReferenceToBlob:
		return true
	}
	return false
}

func parseField(c *cursor, it recipe.ItemType, name string) (object.Value, error) {
	switch it.Kind {
	case recipe.KindReferenceToObj, recipe.KindReferenceToId, recipe.KindReferenceToClob, recipe.KindReferenceToBlob:
		if err := c.consumeLiteral(fmt.Sprintf(`<a itemprop="%s" `, escapeText(name))); err != nil {
			return object.Value{}, err
		}
		return parseLinkTail(c, it.Kind)
	case recipe.KindObject:
		if err := c.consumeLiteral(fmt.Sprintf(`<span itemprop="%s">`, escapeText(name))); err != nil {
			return object.Value{}, err
		}
		nested := object.NewObject("")
		if err := parseFields(c, it.Rules, nested); err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindObject, Nested: nested}, nil
	case recipe.KindBag, recipe.KindArray, recipe.KindSet:
		if err := c.consumeLiteral(fmt.Sprintf(`<span itemprop="%s">`, escapeText(name))); err != nil {
			return object.Value{}, err
		}
		elements, err := parseElements(c, *it.Element)
		if err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: it.Kind, Elements: elements}, nil
	case recipe.KindMap:
		if err := c.consumeLiteral(fmt.Sprintf(`<span itemprop="%s">`, escapeText(name))); err != nil {
			return object.Value{}, err
		}
		entries, err := parseMapEntries(c, *it.MapKey, *it.MapValue)
		if err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindMap, Entries: entries}, nil
	default:
		if err := c.consumeLiteral(fmt.Sprintf(`<span itemprop="%s">`, escapeText(name))); err != nil {
			return object.Value{}, err
		}
		v, err := parseLeafText(c, it)
		if err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return v, nil
	}
}

// parseElements parses zero or more collection/map elements of kind it until
// the next token is a closing tag.
func parseElements(c *cursor, it recipe.ItemType) ([]object.Value, error) {
	var out []object.Value
	for {
		if c.startsWith("</") {
			return out, nil
		}
		v, err := parseElement(c, it)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func parseMapEntries(c *cursor, keyType, valueType recipe.ItemType) ([]object.MapEntry, error) {
	var out []object.MapEntry
	for {
		if c.startsWith("</") {
			return out, nil
		}
		if err := c.consumeLiteral("<span>"); err != nil {
			return nil, err
		}
		k, err := parseElement(c, keyType)
		if err != nil {
			return nil, err
		}
		v, err := parseElement(c, valueType)
		if err != nil {
			return nil, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return nil, err
		}
		out = append(out, object.MapEntry{Key: k, Value: v})
	}
}

func parseElement(c *cursor, it recipe.ItemType) (object.Value, error) {
	switch it.Kind {
	case recipe.KindReferenceToObj, recipe.KindReferenceToId, recipe.KindReferenceToClob, recipe.KindReferenceToBlob:
		if err := c.consumeLiteral("<a "); err != nil {
			return object.Value{}, err
		}
		return parseLinkTail(c, it.Kind)
	case recipe.KindObject:
		if err := c.consumeLiteral("<span itemscope>"); err != nil {
			return object.Value{}, err
		}
		nested := object.NewObject("")
		if err := parseFields(c, it.Rules, nested); err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindObject, Nested: nested}, nil
	case recipe.KindBag, recipe.KindArray, recipe.KindSet:
		if err := c.consumeLiteral("<span>"); err != nil {
			return object.Value{}, err
		}
		elements, err := parseElements(c, *it.Element)
		if err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: it.Kind, Elements: elements}, nil
	case recipe.KindMap:
		if err := c.consumeLiteral("<span>"); err != nil {
			return object.Value{}, err
		}
		entries, err := parseMapEntries(c, *it.MapKey, *it.MapValue)
		if err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindMap, Entries: entries}, nil
	default:
		if err := c.consumeLiteral("<span>"); err != nil {
			return object.Value{}, err
		}
		v, err := parseLeafText(c, it)
		if err != nil {
			return object.Value{}, err
		}
		if err := c.consumeLiteral("</span>"); err != nil {
			return object.Value{}, err
		}
		return v, nil
	}
}

// parseLinkTail parses 'data-type="KIND" href="HEX">HEX</a>' after the
// opening '<a ' (and itemprop attribute, if any) has already been consumed.
func parseLinkTail(c *cursor, kind recipe.Kind) (object.Value, error) {
	if err := c.consumeLiteral(`data-type="`); err != nil {
		return object.Value{}, err
	}
	dataType, err := c.readUntil('"')
	if err != nil {
		return object.Value{}, err
	}
	if err := c.consumeLiteral(`" href="`); err != nil {
		return object.Value{}, err
	}
	hexA, err := c.readUntil('"')
	if err != nil {
		return object.Value{}, err
	}
	if err := c.consumeLiteral(`">`); err != nil {
		return object.Value{}, err
	}
	hexB, err := c.readUntil('<')
	if err != nil {
		return object.Value{}, err
	}
	if err := c.consumeLiteral("</a>"); err != nil {
		return object.Value{}, err
	}
	if hexA != hexB {
		return object.Value{}, errcode.New(errcode.MalformedMicrodata, "hash-link href/text mismatch")
	}
	expected := linkTypeAttr(kind)
	if dataType != expected {
		return object.Value{}, errcode.New(errcode.TypeMismatch,
			fmt.Sprintf("hash-link data-type %q does not match field kind %q", dataType, expected))
	}
	v := object.Value{Kind: kind, LinkKind: core.LinkKind(dataType)}
	if dataType == string(core.LinkId) {
		h, err := core.IdHashFromHex(hexA)
		if err != nil {
			return object.Value{}, errcode.Wrap(errcode.BadHash, "invalid id-hash in link", err)
		}
		v.IdHash = h
	} else {
		h, err := core.HashFromHex(hexA)
		if err != nil {
			return object.Value{}, errcode.Wrap(errcode.BadHash, "invalid hash in link", err)
		}
		v.Hash = h
	}
	return v, nil
}

func parseLeafText(c *cursor, it recipe.ItemType) (object.Value, error) {
	raw, err := c.readUntil('<')
	if err != nil {
		return object.Value{}, err
	}
	text := unescapeText(raw)
	switch it.Kind {
	case recipe.KindString:
		if it.Regex != "" {
			if ok, err := matchRegex(it.Regex, text); err != nil {
				return object.Value{}, err
			} else if !ok {
				return object.Value{}, errcode.New(errcode.ValueOutOfRange,
					fmt.Sprintf("string value %q does not match pattern %q", text, it.Regex))
			}
		}
		return object.Value{Kind: recipe.KindString, Str: text}, nil
	case recipe.KindInteger:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return object.Value{}, errcode.Wrap(errcode.TypeMismatch, "expected integer", err)
		}
		if err := checkRange(it, float64(n)); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindInteger, Int: n}, nil
	case recipe.KindNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return object.Value{}, errcode.Wrap(errcode.TypeMismatch, "expected number", err)
		}
		if err := checkRange(it, f); err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindNumber, Num: f}, nil
	case recipe.KindBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return object.Value{}, errcode.Wrap(errcode.TypeMismatch, "expected boolean", err)
		}
		return object.Value{Kind: recipe.KindBoolean, Bool: b}, nil
	case recipe.KindStringifiable:
		raw, err := unmarshalRaw(text)
		if err != nil {
			return object.Value{}, err
		}
		return object.Value{Kind: recipe.KindStringifiable, Raw: raw}, nil
	}
	return object.Value{}, errcode.New(errcode.TypeMismatch, fmt.Sprintf("unsupported leaf kind %q", it.Kind))
}

func checkRange(it recipe.ItemType, v float64) error {
	if it.Min != nil && v < *it.Min {
		return errcode.New(errcode.ValueOutOfRange, fmt.Sprintf("value %v below minimum %v", v, *it.Min))
	}
	if it.Max != nil && v > *it.Max {
		return errcode.New(errcode.ValueOutOfRange, fmt.Sprintf("value %v above maximum %v", v, *it.Max))
	}
	return nil
}
