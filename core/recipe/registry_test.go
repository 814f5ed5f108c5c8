package recipe

import "testing"

func noteRecipe() *Recipe {
	return &Recipe{
		Name: "Note",
		Rules: []RecipeRule{
			{ItemProp: "text", ItemType: ItemType{Kind: KindString}},
			{ItemProp: "title", Optional: true, ItemType: ItemType{Kind: KindString}},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	r, err := reg.Get("Note")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(r.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(r.Rules))
	}
	if v, err := reg.IsVersioned("Note"); err != nil || v {
		t.Fatalf("Note should not be versioned, got %v, %v", v, err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(noteRecipe()); err == nil {
		t.Fatalf("expected RecipeExists error")
	}
}

func TestNamesListsRegistered(t *testing.T) {
	reg := NewRegistry()
	if names := reg.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry, got %v", names)
	}
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	names := reg.Names()
	if len(names) != 1 || names[0] != "Note" {
		t.Fatalf("expected [Note], got %v", names)
	}
}

func TestGetUnknown(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("Missing"); err == nil {
		t.Fatalf("expected RecipeUnknown error")
	}
}

func TestIsVersioned(t *testing.T) {
	reg := NewRegistry()
	tagsRecipe := &Recipe{
		Name: "Tags",
		Rules: []RecipeRule{
			{ItemProp: "id", IsId: true, ItemType: ItemType{Kind: KindString}},
			{ItemProp: "tags", ItemType: ItemType{Kind: KindSet, Element: &ItemType{Kind: KindString}}},
		},
	}
	if err := reg.Register(tagsRecipe); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, err := reg.IsVersioned("Tags")
	if err != nil {
		t.Fatalf("isVersioned: %v", err)
	}
	if !v {
		t.Fatalf("Tags should be versioned")
	}
}

func TestValidationRejectsBadItemprop(t *testing.T) {
	reg := NewRegistry()
	bad := &Recipe{
		Name: "Bad",
		Rules: []RecipeRule{
			{ItemProp: "a.b", ItemType: ItemType{Kind: KindString}},
		},
	}
	if err := reg.Register(bad); err == nil {
		t.Fatalf("expected validation error for itemprop with dot")
	}
}

func TestValidationRejectsIsIdOnNested(t *testing.T) {
	reg := NewRegistry()
	bad := &Recipe{
		Name: "Bad2",
		Rules: []RecipeRule{
			{ItemProp: "nested", ItemType: ItemType{
				Kind: KindObject,
				Rules: []RecipeRule{
					{ItemProp: "inner", IsId: true, ItemType: ItemType{Kind: KindString}},
				},
			}},
		},
	}
	if err := reg.Register(bad); err == nil {
		t.Fatalf("expected validation error for isId on nested rule")
	}
}

func TestValidationRejectsBadMapKey(t *testing.T) {
	reg := NewRegistry()
	bad := &Recipe{
		Name: "Bad3",
		Rules: []RecipeRule{
			{ItemProp: "m", ItemType: ItemType{
				Kind:     KindMap,
				MapKey:   &ItemType{Kind: KindObject, Rules: []RecipeRule{{ItemProp: "x", ItemType: ItemType{Kind: KindString}}}},
				MapValue: &ItemType{Kind: KindString},
			}},
		},
	}
	if err := reg.Register(bad); err == nil {
		t.Fatalf("expected validation error for object map key")
	}
}

func TestResolveRuleCollectionItemType(t *testing.T) {
	reg := NewRegistry()
	base := &Recipe{
		Name: "Base",
		Rules: []RecipeRule{
			{ItemProp: "items", ItemType: ItemType{Kind: KindArray, Element: &ItemType{Kind: KindInteger}}},
		},
	}
	if err := reg.Register(base); err != nil {
		t.Fatalf("register base: %v", err)
	}
	derived := &Recipe{
		Name: "Derived",
		Rules: []RecipeRule{
			{ItemProp: "single", InheritFrom: "Base.items", CollectionItemType: true},
		},
	}
	if err := reg.Register(derived); err != nil {
		t.Fatalf("register derived: %v", err)
	}
	got, err := reg.Get("Derived")
	if err != nil {
		t.Fatalf("get derived: %v", err)
	}
	if got.Rules[0].ItemType.Kind != KindInteger {
		t.Fatalf("expected inherited element kind integer, got %v", got.Rules[0].ItemType.Kind)
	}
}

func TestResolveRuleMapItemType(t *testing.T) {
	reg := NewRegistry()
	base := &Recipe{
		Name: "MapBase",
		Rules: []RecipeRule{
			{ItemProp: "m", ItemType: ItemType{
				Kind:     KindMap,
				MapKey:   &ItemType{Kind: KindString},
				MapValue: &ItemType{Kind: KindInteger},
			}},
		},
	}
	if err := reg.Register(base); err != nil {
		t.Fatalf("register base: %v", err)
	}
	derived := &Recipe{
		Name: "MapDerived",
		Rules: []RecipeRule{
			{ItemProp: "entry", InheritFrom: "MapBase.m", MapItemType: true},
		},
	}
	if err := reg.Register(derived); err != nil {
		t.Fatalf("register derived: %v", err)
	}
	got, _ := reg.Get("MapDerived")
	if got.Rules[0].ItemType.Kind != KindObject || len(got.Rules[0].ItemType.Rules) != 2 {
		t.Fatalf("expected map entry rewritten into object with key/value, got %+v", got.Rules[0].ItemType)
	}
}

func TestInheritFromRequiresTwoSegments(t *testing.T) {
	reg := NewRegistry()
	bad := &Recipe{
		Name: "Bad4",
		Rules: []RecipeRule{
			{ItemProp: "x", InheritFrom: "OnlyOneSegment"},
		},
	}
	if err := reg.Register(bad); err == nil {
		t.Fatalf("expected error for inheritFrom with one segment")
	}
}
