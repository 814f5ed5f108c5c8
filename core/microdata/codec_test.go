package microdata

import (
	"testing"

	"onecore/core/object"
	"onecore/core/recipe"
)

func noteRegistry(t *testing.T) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()
	if err := reg.Register(&recipe.Recipe{
		Name: "Note",
		Rules: []recipe.RecipeRule{
			{ItemProp: "text", ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: "title", Optional: true, ItemType: recipe.ItemType{Kind: recipe.KindString}},
		},
	}); err != nil {
		t.Fatalf("register Note: %v", err)
	}
	return reg
}

func TestSerializeMatchesSpecExample(t *testing.T) {
	reg := noteRegistry(t)
	rec, _ := reg.Get("Note")
	obj := object.NewObject("Note")
	obj.Fields["text"] = object.Value{Kind: recipe.KindString, Str: "hi"}
	obj.Fields["title"] = object.Value{Kind: recipe.KindString, Str: "t"}

	got, err := Serialize(obj, rec)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	want := `<div itemscope itemtype="//refin.io/Note"><span itemprop="text">hi</span><span itemprop="title">t</span></div>`
	if got != want {
		t.Fatalf("serialize mismatch:\n got:  %s\n want: %s", got, want)
	}
}

func TestRoundTripOptionalOmitted(t *testing.T) {
	reg := noteRegistry(t)
	rec, _ := reg.Get("Note")
	obj := object.NewObject("Note")
	obj.Fields["text"] = object.Value{Kind: recipe.KindString, Str: "only text"}

	s, err := Serialize(obj, rec)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, _, err := Parse(s, reg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Fields["text"].Str != "only text" {
		t.Fatalf("unexpected text field: %+v", parsed.Fields["text"])
	}
	if _, ok := parsed.Fields["title"]; ok {
		t.Fatalf("expected title to be absent")
	}
}

func TestHashDeterministic(t *testing.T) {
	reg := noteRegistry(t)
	rec, _ := reg.Get("Note")
	obj := object.NewObject("Note")
	obj.Fields["text"] = object.Value{Kind: recipe.KindString, Str: "hi"}

	h1, s1, err := ObjectHash(obj, rec)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, s2, err := ObjectHash(obj, rec)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 || s1 != s2 {
		t.Fatalf("hash not deterministic")
	}
	if len(h1.String()) != 64 {
		t.Fatalf("expected 64-hex hash, got %d chars", len(h1.String()))
	}
}

func TestRejectsTrailingGarbage(t *testing.T) {
	reg := noteRegistry(t)
	s := `<div itemscope itemtype="//refin.io/Note"><span itemprop="text">hi</span></div>GARBAGE`
	if _, _, err := Parse(s, reg); err == nil {
		t.Fatalf("expected error for trailing garbage")
	}
}

func TestRejectsMissingRequiredField(t *testing.T) {
	reg := noteRegistry(t)
	s := `<div itemscope itemtype="//refin.io/Note"></div>`
	if _, _, err := Parse(s, reg); err == nil {
		t.Fatalf("expected error for missing required field")
	}
}

func TestRejectsUnknownType(t *testing.T) {
	reg := noteRegistry(t)
	s := `<div itemscope itemtype="//refin.io/Ghost"></div>`
	if _, _, err := Parse(s, reg); err == nil {
		t.Fatalf("expected RecipeUnknown error")
	}
}

func TestSetCanonicalOrderingStable(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := reg.Register(&recipe.Recipe{
		Name: "Tags",
		Rules: []recipe.RecipeRule{
			{ItemProp: "id", IsId: true, ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: "tags", ItemType: recipe.ItemType{Kind: recipe.KindSet, Element: &recipe.ItemType{Kind: recipe.KindString}}},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec, _ := reg.Get("Tags")

	makeObj := func(order []string) *object.Object {
		o := object.NewObject("Tags")
		o.Fields["id"] = object.Value{Kind: recipe.KindString, Str: "x"}
		var elems []object.Value
		for _, s := range order {
			elems = append(elems, object.Value{Kind: recipe.KindString, Str: s})
		}
		o.Fields["tags"] = object.Value{Kind: recipe.KindSet, Elements: elems}
		return o
	}

	a, err := Serialize(makeObj([]string{"b", "a", "c"}), rec)
	if err != nil {
		t.Fatalf("serialize a: %v", err)
	}
	b, err := Serialize(makeObj([]string{"c", "b", "a"}), rec)
	if err != nil {
		t.Fatalf("serialize b: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical serialization regardless of insertion order:\n%s\n%s", a, b)
	}
}

func TestReferenceFieldRoundTrip(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := reg.Register(&recipe.Recipe{
		Name: "Link",
		Rules: []recipe.RecipeRule{
			{ItemProp: "target", ItemType: recipe.ItemType{Kind: recipe.KindReferenceToObj, AllowedTypes: []string{"*"}}},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec, _ := reg.Get("Link")
	h, _, err := ObjectHash(object.NewObject("Note"), &recipe.Recipe{Name: "Note"})
	_ = err
	obj := object.NewObject("Link")
	obj.Fields["target"] = object.Value{Kind: recipe.KindReferenceToObj, LinkKind: "obj", Hash: h}

	s, err := Serialize(obj, rec)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, _, err := Parse(s, reg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Fields["target"].Hash != h {
		t.Fatalf("hash mismatch after round trip")
	}
}

func TestFindAllHashLinks(t *testing.T) {
	s := `<div itemscope itemtype="//refin.io/Link"><a itemprop="target" data-type="obj" href="` +
		"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef" +
		`">deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef</a></div>`
	links, err := FindAllHashLinks(s)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	occs := links["target"]
	if len(occs) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occs))
	}
	if occs[0].LinkKind != "obj" {
		t.Fatalf("expected link kind obj, got %s", occs[0].LinkKind)
	}
}
