package main

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/internal/access"
	"onecore/internal/store"
)

func newTestPersister(t *testing.T) (*storePersister, *store.FSStore, *access.FSReverseIndex) {
	t.Helper()
	st, err := store.NewFSStore(afero.NewMemMapFs(), "/root")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	idx := access.NewFSReverseIndex(st)
	return &storePersister{store: st, index: idx}, st, idx
}

func TestPersistObjectRecordsReferrers(t *testing.T) {
	p, _, idx := newTestPersister(t)

	target := newKeysObject("owner-of-target", []byte{0x01}, []byte{0x02})
	targetHash, err := p.PersistObject(target, keysRecipe())
	if err != nil {
		t.Fatalf("PersistObject(target): %v", err)
	}

	referring := newKeysObject("owner-of-referrer", []byte{0x03}, []byte{0x04})
	r := keysRecipe()
	r.Rules = append(r.Rules, recipe.RecipeRule{
		ItemProp: "ref",
		ItemType: recipe.ItemType{Kind: recipe.KindReferenceToObj},
	})
	referring.Fields["ref"] = object.Value{Kind: recipe.KindReferenceToObj, Hash: targetHash}

	referrerHash, err := p.PersistObject(referring, r)
	if err != nil {
		t.Fatalf("PersistObject(referring): %v", err)
	}

	got, err := idx.ReferrersOf(access.ObjRef(targetHash))
	if err != nil {
		t.Fatalf("ReferrersOf: %v", err)
	}
	if len(got) != 1 || got[0] != referrerHash {
		t.Fatalf("expected referrer %v, got %v", referrerHash, got)
	}
}

func TestPersistMergeNodeRecordsParentPrevAndDataReferrers(t *testing.T) {
	p, st, idx := newTestPersister(t)

	dataHash, err := p.PersistObject(newKeysObject("owner", []byte{0x01}, []byte{0x02}), keysRecipe())
	if err != nil {
		t.Fatalf("PersistObject: %v", err)
	}

	root := &versiongraph.Node{
		Kind:         versiongraph.KindRoot,
		Data:         dataHash,
		CreationTime: time.Now().Unix(),
	}
	rootHash, err := p.PersistMergeNode(root)
	if err != nil {
		t.Fatalf("PersistMergeNode(root): %v", err)
	}

	child := &versiongraph.Node{
		Kind:         versiongraph.KindChange,
		Data:         dataHash,
		Prev:         rootHash,
		Parents:      []core.Hash{rootHash},
		CreationTime: time.Now().Unix(),
		Depth:        1,
	}
	childHash, err := p.PersistMergeNode(child)
	if err != nil {
		t.Fatalf("PersistMergeNode(child): %v", err)
	}

	referrers, err := idx.ReferrersOf(access.ObjRef(rootHash))
	if err != nil {
		t.Fatalf("ReferrersOf(root): %v", err)
	}
	found := false
	for _, h := range referrers {
		if h == childHash {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected child %v to reference root %v, got %v", childHash, rootHash, referrers)
	}

	if _, err := st.ReadText(childHash); err != nil {
		t.Fatalf("ReadText(child): %v", err)
	}
}
