package recipe

import "testing"

const noteYAML = `
name: Note
rules:
  - itemProp: owner
    isId: true
    itemType:
      kind: string
  - itemProp: title
    optional: true
    itemType:
      kind: string
  - itemProp: tags
    itemType:
      kind: set
      element:
        kind: string
`

func TestParseYAMLBuildsRegisterableRecipe(t *testing.T) {
	r, err := ParseYAML([]byte(noteYAML))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if r.Name != "Note" {
		t.Fatalf("expected name Note, got %q", r.Name)
	}
	if len(r.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(r.Rules))
	}
	if r.Rules[2].ItemType.Element == nil || r.Rules[2].ItemType.Element.Kind != KindString {
		t.Fatalf("expected tags element kind string, got %+v", r.Rules[2].ItemType.Element)
	}

	reg := NewRegistry()
	if err := reg.Register(r); err != nil {
		t.Fatalf("register parsed recipe: %v", err)
	}
	if v, err := reg.IsVersioned("Note"); err != nil || !v {
		t.Fatalf("expected Note to be versioned via owner's isId, got %v, %v", v, err)
	}
}

func TestParseYAMLRejectsMalformedInput(t *testing.T) {
	if _, err := ParseYAML([]byte("not: [valid")); err == nil {
		t.Fatalf("expected an error for malformed yaml")
	}
}
