package chum

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"onecore/core"
	"onecore/core/merge"
	"onecore/core/microdata"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/pkg/errcode"
)

// fakeExporterClient is an in-memory ExporterClient test double: a fixed
// remote catalog the test populates directly, with no transport involved.
type fakeExporterClient struct {
	protocolVersion int
	protocolErr     error

	roots []AccessibleObject

	objectText     map[core.Hash]string
	objectChildren map[core.Hash][]Child

	idText     map[core.IdHash]string
	idChildren map[core.IdHash][]Child

	finCalled bool
}

func newFakeExporterClient() *fakeExporterClient {
	return &fakeExporterClient{
		protocolVersion: ProtocolVersion,
		objectText:      make(map[core.Hash]string),
		objectChildren:  make(map[core.Hash][]Child),
		idText:          make(map[core.IdHash]string),
		idChildren:      make(map[core.IdHash][]Child),
	}
}

func (f *fakeExporterClient) GetProtocolVersion(ctx context.Context) (int, error) {
	return f.protocolVersion, f.protocolErr
}

func (f *fakeExporterClient) GetAccessibleRoots(ctx context.Context) ([]AccessibleObject, error) {
	return f.roots, nil
}

func (f *fakeExporterClient) GetObjectChildren(ctx context.Context, hash core.Hash) ([]Child, error) {
	return f.objectChildren[hash], nil
}

func (f *fakeExporterClient) GetIdObjectChildren(ctx context.Context, idHash core.IdHash) ([]Child, error) {
	return f.idChildren[idHash], nil
}

func (f *fakeExporterClient) GetObject(ctx context.Context, hash core.Hash) (string, error) {
	text, ok := f.objectText[hash]
	if !ok {
		return "", errcode.New(errcode.Internal, "fake: no such object")
	}
	return text, nil
}

func (f *fakeExporterClient) GetIdObject(ctx context.Context, idHash core.IdHash) (string, error) {
	text, ok := f.idText[idHash]
	if !ok {
		return "", errcode.New(errcode.Internal, "fake: no such id-object")
	}
	return text, nil
}

func (f *fakeExporterClient) GetBlob(ctx context.Context, hash core.Hash, encoding string) ([]byte, error) {
	return nil, errcode.New(errcode.Internal, "fake: GetBlob not configured")
}

func (f *fakeExporterClient) Fin(ctx context.Context) error {
	f.finCalled = true
	return nil
}

// addNote serializes a TestNote into fake's remote object catalog, wiring
// objectChildren from its ref field, and returns its hash.
func (f *fakeExporterClient) addNote(t *testing.T, reg *recipe.Registry, title string, ref core.Hash) core.Hash {
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
	f.objectText[h] = text
	if !ref.IsZero() {
		f.objectChildren[h] = []Child{{Type: ChildObject, Hash: ref}}
	}
	return h
}

// versionedNoteRecipe is a minimal versioned type (one identity field) used
// by the version-node integration tests, distinct from the unversioned
// TestNote used elsewhere.
func versionedNoteRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: "VersionedNote",
		Rules: []recipe.RecipeRule{
			{ItemProp: "key", IsId: true, ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: "title", ItemType: recipe.ItemType{Kind: recipe.KindString}},
		},
	}
}

func newTestRegistry(t *testing.T) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()
	if err := reg.Register(noteRecipe()); err != nil {
		t.Fatalf("register TestNote: %v", err)
	}
	if err := reg.Register(versionedNoteRecipe()); err != nil {
		t.Fatalf("register VersionedNote: %v", err)
	}
	if err := reg.Register(versiongraph.Recipe()); err != nil {
		t.Fatalf("register OneVersionNode: %v", err)
	}
	return reg
}

// addVersionedNote serializes a VersionedNote concrete object into fake's
// remote object catalog and returns (hash, idHash).
func (f *fakeExporterClient) addVersionedNote(t *testing.T, reg *recipe.Registry, key, title string) (core.Hash, core.IdHash) {
	t.Helper()
	obj := object.NewObject("VersionedNote")
	obj.Fields["key"] = object.Value{Kind: recipe.KindString, Str: key}
	obj.Fields["title"] = object.Value{Kind: recipe.KindString, Str: title}
	r, err := reg.Get("VersionedNote")
	if err != nil {
		t.Fatalf("Get recipe: %v", err)
	}
	text, err := microdata.Serialize(obj, r)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	h := core.Hash(sha256.Sum256([]byte(text)))
	f.objectText[h] = text
	idHash, _, err := microdata.IdObjectHash(obj, r)
	if err != nil {
		t.Fatalf("IdObjectHash: %v", err)
	}
	return h, idHash
}

func TestFetchObjectWithChildrenStoresDeepestFirst(t *testing.T) {
	reg := newTestRegistry(t)
	fc := newFakeExporterClient()
	child := fc.addNote(t, reg, "child", core.Hash{})
	parent := fc.addNote(t, reg, "parent", child)

	s := newTestStore(t)
	imp := &Importer{Client: fc, Store: s, Registry: reg}

	ctx := context.Background()
	if err := imp.fetchObjectWithChildren(ctx, parent); err != nil {
		t.Fatalf("fetchObjectWithChildren: %v", err)
	}
	if !s.Exists(child, core.AreaObjects) {
		t.Fatalf("expected child stored")
	}
	if !s.Exists(parent, core.AreaObjects) {
		t.Fatalf("expected parent stored")
	}
}

func TestFetchObjectWithChildrenRejectsHashMismatch(t *testing.T) {
	reg := newTestRegistry(t)
	fc := newFakeExporterClient()
	real := fc.addNote(t, reg, "note", core.Hash{})
	// Register a second, bogus hash whose claimed content does not match.
	var bogus core.Hash
	bogus[0] = 0xFF
	fc.objectText[bogus] = fc.objectText[real]

	s := newTestStore(t)
	imp := &Importer{Client: fc, Store: s, Registry: reg}

	err := imp.fetchObjectWithChildren(context.Background(), bogus)
	if !errcode.Is(err, errcode.HashMismatch) {
		t.Fatalf("expected HashMismatch, got %v", err)
	}
	if s.Exists(bogus, core.AreaObjects) {
		t.Fatalf("expected bogus hash not stored")
	}
}

func TestFetchObjectWithChildrenRejectsRejectedType(t *testing.T) {
	reg := recipe.NewRegistry()
	if err := reg.Register(&recipe.Recipe{
		Name: "Access",
		Rules: []recipe.RecipeRule{
			{ItemProp: "note", ItemType: recipe.ItemType{Kind: recipe.KindString}},
		},
	}); err != nil {
		t.Fatalf("register Access: %v", err)
	}
	obj := object.NewObject("Access")
	obj.Fields["note"] = object.Value{Kind: recipe.KindString, Str: "grant"}
	r, _ := reg.Get("Access")
	text, err := microdata.Serialize(obj, r)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	h := core.Hash(sha256.Sum256([]byte(text)))

	fc := newFakeExporterClient()
	fc.objectText[h] = text

	s := newTestStore(t)
	imp := &Importer{Client: fc, Store: s, Registry: reg}

	err = imp.fetchObjectWithChildren(context.Background(), h)
	if !errcode.Is(err, errcode.RejectedType) {
		t.Fatalf("expected RejectedType, got %v", err)
	}
	if s.Exists(h, core.AreaObjects) {
		t.Fatalf("expected rejected object not stored")
	}
}

func TestFetchIdObjectWithChildrenNeverPersistsIdProjection(t *testing.T) {
	reg := newTestRegistry(t)
	fc := newFakeExporterClient()
	child := fc.addNote(t, reg, "child", core.Hash{})

	var idHash core.IdHash
	idHash[0] = 0x42
	idText := `<div data-id-object="true" itemscope itemtype="//refin.io/TestNote"></div>`
	computedId := core.IdHash(sha256.Sum256([]byte(idText)))
	fc.idText[computedId] = idText
	fc.idChildren[computedId] = []Child{{Type: ChildObject, Hash: child}}

	s := newTestStore(t)
	imp := &Importer{Client: fc, Store: s, Registry: reg}

	if err := imp.fetchIdObjectWithChildren(context.Background(), computedId); err != nil {
		t.Fatalf("fetchIdObjectWithChildren: %v", err)
	}
	if !s.Exists(child, core.AreaObjects) {
		t.Fatalf("expected child stored")
	}
	if s.Exists(core.Hash(computedId), core.AreaObjects) {
		t.Fatalf("expected id projection not stored")
	}
}

func TestNegotiateProtocolVersionMismatchFails(t *testing.T) {
	fc := newFakeExporterClient()
	fc.protocolVersion = ProtocolVersion + 1
	imp := &Importer{Client: fc, ProtocolVersionRetries: 1}

	err := imp.negotiateProtocolVersion(context.Background())
	if !errcode.Is(err, errcode.ProtocolMismatch) {
		t.Fatalf("expected ProtocolMismatch, got %v", err)
	}
}

func TestNegotiateProtocolVersionRetriesOnUnknownService(t *testing.T) {
	fc := newFakeExporterClient()
	attempts := 0
	imp := &Importer{
		Client:                 fakeVersionSequence(fc, &attempts, fc.protocolVersion),
		ProtocolVersionRetries: 5,
		ProtocolVersionBackoff: time.Millisecond,
	}
	if err := imp.negotiateProtocolVersion(context.Background()); err != nil {
		t.Fatalf("negotiateProtocolVersion: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

// versionSequenceClient succeeds on the third GetProtocolVersion call,
// returning PeerUnknownService before that.
type versionSequenceClient struct {
	*fakeExporterClient
	attempts *int
	version  int
}

func (v *versionSequenceClient) GetProtocolVersion(ctx context.Context) (int, error) {
	*v.attempts++
	if *v.attempts < 3 {
		return 0, errcode.New(errcode.PeerUnknownService, "not yet registered")
	}
	return v.version, nil
}

func fakeVersionSequence(fc *fakeExporterClient, attempts *int, version int) ExporterClient {
	return &versionSequenceClient{fakeExporterClient: fc, attempts: attempts, version: version}
}

func TestProcessVersionNodeGroupAdoptsFirstHead(t *testing.T) {
	reg := newTestRegistry(t)
	s := newTestStore(t)
	fc := newFakeExporterClient()

	data, dataIdHash := fc.addVersionedNote(t, reg, "note-1", "v1")
	node := &versiongraph.Node{Kind: versiongraph.KindRoot, Data: data, CreationTime: 1, Depth: 0}
	nodeObj := versiongraph.Encode(node)
	r, _ := reg.Get(versiongraph.RecipeName)
	nodeText, err := microdata.Serialize(nodeObj, r)
	if err != nil {
		t.Fatalf("serialize node: %v", err)
	}
	nodeHash := core.Hash(sha256.Sum256([]byte(nodeText)))
	fc.objectText[nodeHash] = nodeText
	fc.objectChildren[nodeHash] = []Child{{Type: ChildObject, Hash: data}}

	imp := &Importer{Client: fc, Store: s, Registry: reg}
	root := AccessibleObject{Type: KindVersionNode, Node: nodeHash, DataIdHash: dataIdHash, DataType: "VersionedNote"}

	imp.processVersionNodeGroup(context.Background(), dataIdHash, []AccessibleObject{root})

	head, ok, err := s.ReadVHead(dataIdHash)
	if err != nil || !ok {
		t.Fatalf("expected vhead set, ok=%v err=%v", ok, err)
	}
	if head != nodeHash {
		t.Fatalf("expected head %v, got %v", nodeHash, head)
	}
}

func TestProcessVersionNodeGroupSkipsWhenAlreadyAtHead(t *testing.T) {
	reg := newTestRegistry(t)
	s := newTestStore(t)
	fc := newFakeExporterClient()

	data, dataIdHash := fc.addVersionedNote(t, reg, "note-1", "v1")
	node := &versiongraph.Node{Kind: versiongraph.KindRoot, Data: data, CreationTime: 1, Depth: 0}
	nodeObj := versiongraph.Encode(node)
	r, _ := reg.Get(versiongraph.RecipeName)
	nodeText, err := microdata.Serialize(nodeObj, r)
	if err != nil {
		t.Fatalf("serialize node: %v", err)
	}
	nodeHash := core.Hash(sha256.Sum256([]byte(nodeText)))
	fc.objectText[nodeHash] = nodeText
	fc.objectChildren[nodeHash] = []Child{{Type: ChildObject, Hash: data}}

	if err := s.WriteVHead(dataIdHash, nodeHash); err != nil {
		t.Fatalf("WriteVHead: %v", err)
	}

	called := false
	imp := &Importer{
		Client:   fc,
		Store:    s,
		Registry: reg,
		MergeCoordinatorFor: func(dataType string) (*merge.Coordinator, error) {
			called = true
			return nil, errcode.New(errcode.Internal, "should not be called")
		},
	}
	root := AccessibleObject{Type: KindVersionNode, Node: nodeHash, DataIdHash: dataIdHash, DataType: "VersionedNote"}
	imp.processVersionNodeGroup(context.Background(), dataIdHash, []AccessibleObject{root})

	if called {
		t.Fatalf("expected no merge when already at head")
	}
}

func TestFetchVersionNodeRejectsDataIdHashMismatch(t *testing.T) {
	reg := newTestRegistry(t)
	s := newTestStore(t)
	fc := newFakeExporterClient()

	data, _ := fc.addVersionedNote(t, reg, "note-1", "v1")
	node := &versiongraph.Node{Kind: versiongraph.KindRoot, Data: data, CreationTime: 1, Depth: 0}
	nodeObj := versiongraph.Encode(node)
	r, _ := reg.Get(versiongraph.RecipeName)
	nodeText, err := microdata.Serialize(nodeObj, r)
	if err != nil {
		t.Fatalf("serialize node: %v", err)
	}
	nodeHash := core.Hash(sha256.Sum256([]byte(nodeText)))
	fc.objectText[nodeHash] = nodeText
	fc.objectChildren[nodeHash] = []Child{{Type: ChildObject, Hash: data}}

	imp := &Importer{Client: fc, Store: s, Registry: reg}
	var wrongIdHash core.IdHash
	wrongIdHash[0] = 0x99
	root := AccessibleObject{Type: KindVersionNode, Node: nodeHash, DataIdHash: wrongIdHash, DataType: "VersionedNote"}

	_, err = imp.fetchVersionNode(context.Background(), root)
	if !errcode.Is(err, errcode.ChildConsistency) {
		t.Fatalf("expected ChildConsistency, got %v", err)
	}
	if s.Exists(nodeHash, core.AreaObjects) {
		t.Fatalf("expected version-node not persisted after failed integration check")
	}
}
