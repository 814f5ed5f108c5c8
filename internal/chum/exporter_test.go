package chum

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/spf13/afero"

	"onecore/core"
	"onecore/core/microdata"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/internal/access"
	"onecore/internal/store"
	"onecore/pkg/errcode"
)

// noteRecipe is a minimal unversioned type used across these tests: a plain
// string field, plus an optional reference used to exercise child listing.
func noteRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: "TestNote",
		Rules: []recipe.RecipeRule{
			{ItemProp: "title", ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: "ref", Optional: true, ItemType: recipe.ItemType{
				Kind: recipe.KindReferenceToObj, AllowedTypes: []string{"*"},
			}},
		},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewFSStore(afero.NewMemMapFs(), "/root")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

// putNote serializes and stores a TestNote, returning its content hash.
func putNote(t *testing.T, s store.Store, reg *recipe.Registry, title string, ref core.Hash) core.Hash {
	t.Helper()
	obj := object.NewObject("TestNote")
	obj.Fields["title"] = object.Value{Kind: recipe.KindString, Str: title}
	if !ref.IsZero() {
		obj.Fields["ref"] = object.Value{Kind: recipe.KindReferenceToObj, LinkKind: core.LinkObj, Hash: ref}
	}
	r, err := reg.Get("TestNote")
	if err != nil {
		t.Fatalf("Get recipe: %v", err)
	}
	text, err := microdata.Serialize(obj, r)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	h := core.Hash(sha256.Sum256([]byte(text)))
	if err := s.WriteText(text, h); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	return h
}

func newEmptyFilter() *fixedFilter {
	return &fixedFilter{granted: make(map[access.RefKey]access.Ref)}
}

// fixedFilter is a hand-rolled access.Filter test double: its accessible set
// is whatever the test populates via grant, with no reverse-index closure.
type fixedFilter struct {
	granted map[access.RefKey]access.Ref
}

func (f *fixedFilter) grant(ref access.Ref) {
	f.granted[ref.Key()] = ref
}

func (f *fixedFilter) AccessibleSet(remotePerson core.IdHash) (map[access.RefKey]access.Ref, error) {
	return f.granted, nil
}

func (f *fixedFilter) OnAccessibleChange(remotePerson core.IdHash) <-chan struct{} {
	return nil
}

func newTestExporter(t *testing.T, s store.Store, reg *recipe.Registry, filter *fixedFilter) *Exporter {
	t.Helper()
	return &Exporter{
		Store:   s,
		Catalog: &DefaultCatalog{Store: s, Registry: reg},
		Access:  filter,
	}
}

func TestExporterGetObjectDeniedWithoutGrant(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := newTestStore(t)
	h := putNote(t, s, reg, "hello", core.Hash{})
	filter := newEmptyFilter()
	exp := newTestExporter(t, s, reg, filter)

	clientSide, serverSide := newPipePair()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = exp.Serve(ctx, serverSide) }()

	c := NewClient(clientSide, nil)
	_, err := c.GetObject(ctx, h)
	if !errcode.Is(err, errcode.AccessDenied) {
		t.Fatalf("expected AccessDenied, got %v", err)
	}
	_ = c.Fin(ctx)
}

func TestExporterGetObjectAndChildren(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := newTestStore(t)
	child := putNote(t, s, reg, "child", core.Hash{})
	parent := putNote(t, s, reg, "parent", child)

	filter := newEmptyFilter()
	filter.grant(access.ObjRef(parent))
	filter.grant(access.ObjRef(child))
	exp := newTestExporter(t, s, reg, filter)

	clientSide, serverSide := newPipePair()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = exp.Serve(ctx, serverSide) }()

	c := NewClient(clientSide, nil)

	v, err := c.GetProtocolVersion(ctx)
	if err != nil || v != ProtocolVersion {
		t.Fatalf("GetProtocolVersion: v=%d err=%v", v, err)
	}

	children, err := c.GetObjectChildren(ctx, parent)
	if err != nil {
		t.Fatalf("GetObjectChildren: %v", err)
	}
	if len(children) != 1 || children[0].Type != ChildObject || children[0].Hash != child {
		t.Fatalf("expected single object child %v, got %+v", child, children)
	}

	text, err := c.GetObject(ctx, parent)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if len(text) == 0 {
		t.Fatalf("expected non-empty object text")
	}

	_ = c.Fin(ctx)
}

func TestExporterGetAccessibleRoots(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := newTestStore(t)
	h := putNote(t, s, reg, "root note", core.Hash{})

	filter := newEmptyFilter()
	filter.grant(access.ObjRef(h))
	exp := newTestExporter(t, s, reg, filter)

	clientSide, serverSide := newPipePair()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = exp.Serve(ctx, serverSide) }()

	c := NewClient(clientSide, nil)
	roots, err := c.GetAccessibleRoots(ctx)
	if err != nil {
		t.Fatalf("GetAccessibleRoots: %v", err)
	}
	if len(roots) != 1 || roots[0].Type != KindUnversioned || roots[0].Hash != h {
		t.Fatalf("expected one unversioned root %v, got %+v", h, roots)
	}
	_ = c.Fin(ctx)
}

func TestExporterStreamsBlob(t *testing.T) {
	reg := recipe.NewRegistry()
	s := newTestStore(t)
	body := []byte("a blob body bigger than nothing")
	h := core.Hash(sha256.Sum256(body))
	if err := s.WriteText(string(body), h); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	filter := newEmptyFilter()
	filter.grant(access.ObjRef(h))
	exp := newTestExporter(t, s, reg, filter)

	clientSide, serverSide := newPipePair()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = exp.Serve(ctx, serverSide) }()

	c := NewClient(clientSide, nil)
	got, err := c.GetBlob(ctx, h, "")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("expected %q, got %q", body, got)
	}
	_ = c.Fin(ctx)
}
