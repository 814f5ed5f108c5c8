package main

import (
	"time"

	"onecore/core"
	"onecore/core/microdata"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/internal/access"
	"onecore/internal/store"
)

// storePersister is the merge.Persister every merge.Coordinator built by
// mergeCoordinatorFactory shares: it serializes+hashes a merged concrete
// object or version-node, writes it into Store, and records the resulting
// hash as a referrer of the object(s) it references so the access-filter
// reverse index (§6's rmaps/ area) stays current.
type storePersister struct {
	store store.Store
	index *access.FSReverseIndex
}

func (p *storePersister) PersistObject(obj *object.Object, r *recipe.Recipe) (core.Hash, error) {
	hash, text, err := microdata.ObjectHash(obj, r)
	if err != nil {
		return core.Hash{}, err
	}
	if err := p.store.WriteText(text, hash); err != nil {
		return core.Hash{}, err
	}
	p.recordReferrers(hash, obj, r)
	return hash, nil
}

func (p *storePersister) PersistMergeNode(n *versiongraph.Node) (core.Hash, error) {
	obj := versiongraph.Encode(n)
	hash, text, err := microdata.ObjectHash(obj, versiongraph.Recipe())
	if err != nil {
		return core.Hash{}, err
	}
	if err := p.store.WriteText(text, hash); err != nil {
		return core.Hash{}, err
	}
	if p.index != nil {
		for _, parent := range n.Parents {
			_ = p.index.RecordReferrer(access.ObjRef(parent), hash)
		}
		if !n.Prev.IsZero() {
			_ = p.index.RecordReferrer(access.ObjRef(n.Prev), hash)
		}
		_ = p.index.RecordReferrer(access.ObjRef(n.Data), hash)
	}
	return hash, nil
}

func (p *storePersister) CurrentTime() int64 {
	return time.Now().Unix()
}

// recordReferrers walks obj's direct referenceToObj/referenceToId fields,
// noting referrer as pointing at each one. This is what lets
// access.FSReverseIndex.ReferrersOf later answer "what reaches this hash"
// without re-parsing every object in the store on each accessible-set
// computation.
func (p *storePersister) recordReferrers(referrer core.Hash, obj *object.Object, r *recipe.Recipe) {
	if p.index == nil {
		return
	}
	for _, rule := range r.Rules {
		v, ok := obj.Fields[rule.ItemProp]
		if !ok {
			continue
		}
		switch rule.ItemType.Kind {
		case recipe.KindReferenceToObj:
			if !v.Hash.IsZero() {
				_ = p.index.RecordReferrer(access.ObjRef(v.Hash), referrer)
			}
		case recipe.KindReferenceToId:
			if !v.IdHash.IsZero() {
				_ = p.index.RecordReferrer(access.IdRef(v.IdHash), referrer)
			}
		}
	}
}
