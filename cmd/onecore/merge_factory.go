package main

import (
	"onecore/core"
	"onecore/core/merge"
	"onecore/core/microdata"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/internal/access"
	"onecore/internal/chum"
	"onecore/internal/store"
	"onecore/pkg/errcode"
)

// mergeCoordinatorFactory builds the `MergeCoordinatorFor` callback
// internal/chum.Importer needs (its Persister/RecurseRef are composition-
// root concerns per that package's own doc comment). One Coordinator per
// data type is built lazily and reused for the life of the process.
func mergeCoordinatorFactory(reg *recipe.Registry, st store.Store, idx *access.FSReverseIndex) func(dataType string) (*merge.Coordinator, error) {
	cache := make(map[string]*merge.Coordinator)

	fetch := func(h core.Hash) (*object.Object, error) {
		text, err := st.ReadText(h)
		if err != nil {
			return nil, err
		}
		obj, _, err := microdata.Parse(text, reg)
		if err != nil {
			return nil, errcode.Wrap(errcode.MalformedMicrodata, "merge: parse concrete object", err)
		}
		return obj, nil
	}

	var build func(dataType string) (*merge.Coordinator, error)
	build = func(dataType string) (*merge.Coordinator, error) {
		if c, ok := cache[dataType]; ok {
			return c, nil
		}
		r, err := reg.Get(dataType)
		if err != nil {
			return nil, err
		}
		coord := &merge.Coordinator{
			Recipe:  r,
			Source:  &chum.StoreNodeSource{Store: st, Registry: reg},
			Fetch:   fetch,
			Persist: &storePersister{store: st, index: idx},
		}
		coord.RecurseRef = func(id core.IdHash, h1, h2 core.Hash) (core.Hash, error) {
			obj1, err := fetch(h1)
			if err != nil {
				return core.Hash{}, err
			}
			nested, err := build(obj1.Type)
			if err != nil {
				return core.Hash{}, err
			}
			result, err := nested.Merge(id, h1, h2, merge.ModeRemote)
			if err != nil {
				return core.Hash{}, err
			}
			return result.NewNodeHash, nil
		}
		cache[dataType] = coord
		return coord, nil
	}
	return build
}
