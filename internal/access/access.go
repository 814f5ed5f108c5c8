// Package access implements a default Access Filter (§6's consumed
// "access filter" interface): the core trusts this set as the only gate on
// what the Chum Exporter is willing to hand a remote peer. ReverseMapFilter
// is the simplest policy that satisfies the boolean-reachability contract —
// a declared per-person grant list closed over the rmaps/ reverse index, no
// rule language.
package access

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"onecore/core"
)

// Ref is a tagged reference to either a concrete-object hash or an id-hash,
// since the accessible set (§6) is a Set<Hash|IdHash>.
type Ref struct {
	Hash   core.Hash
	IdHash core.IdHash
	IsId   bool
}

func ObjRef(h core.Hash) Ref   { return Ref{Hash: h} }
func IdRef(h core.IdHash) Ref  { return Ref{IdHash: h, IsId: true} }

// RefKey is a comparable form of Ref usable as a map key.
type RefKey struct {
	Hash   core.Hash
	IdHash core.IdHash
	IsId   bool
}

func (r Ref) Key() RefKey { return RefKey{Hash: r.Hash, IdHash: r.IdHash, IsId: r.IsId} }

// ReverseIndex resolves the set of hashes directly granted to remotePerson,
// and the hashes that the rmaps/ reverse index closes over for each one
// (every concrete object that transitively references a granted hash is
// itself reachable, since the exporter only ever needs to answer "is this
// hash exportable to this peer").
type ReverseIndex interface {
	// GrantedRoots returns the hashes/id-hashes explicitly shared with
	// remotePerson (e.g. written by an application-level sharing action).
	GrantedRoots(remotePerson core.IdHash) ([]Ref, error)
	// ReferrersOf returns every hash that the rmaps/ index records as
	// directly referencing target.
	ReferrersOf(target Ref) ([]core.Hash, error)
}

// Filter is the Access Filter interface consumed by internal/chum's
// exporter.
type Filter interface {
	AccessibleSet(remotePerson core.IdHash) (map[RefKey]Ref, error)
	OnAccessibleChange(remotePerson core.IdHash) <-chan struct{}
}

var _ Filter = (*ReverseMapFilter)(nil)

// ReverseMapFilter computes a remote person's accessible set by closing the
// rmaps/ reverse index over their granted roots, and caches the result per
// person in an LRU (the acache/ area of §6's persisted-state layout).
type ReverseMapFilter struct {
	index ReverseIndex
	log   *logrus.Logger

	cache *lru.Cache[core.IdHash, map[RefKey]Ref]

	mu       sync.Mutex
	watchers map[core.IdHash][]chan struct{}
}

// NewReverseMapFilter wires a ReverseMapFilter with an LRU cache holding up
// to cacheSize recently-computed accessible sets.
func NewReverseMapFilter(index ReverseIndex, cacheSize int, log *logrus.Logger) (*ReverseMapFilter, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[core.IdHash, map[RefKey]Ref](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ReverseMapFilter{
		index:    index,
		log:      log,
		cache:    cache,
		watchers: make(map[core.IdHash][]chan struct{}),
	}, nil
}

// AccessibleSet returns a snapshot view of the hashes/id-hashes reachable by
// remotePerson: every granted root plus every hash the reverse index
// records as referencing a reachable member, closed to a fixed point.
func (f *ReverseMapFilter) AccessibleSet(remotePerson core.IdHash) (map[RefKey]Ref, error) {
	if set, ok := f.cache.Get(remotePerson); ok {
		return set, nil
	}

	roots, err := f.index.GrantedRoots(remotePerson)
	if err != nil {
		return nil, err
	}

	set := make(map[RefKey]Ref, len(roots))
	queue := make([]Ref, 0, len(roots))
	for _, r := range roots {
		k := r.Key()
		if _, seen := set[k]; seen {
			continue
		}
		set[k] = r
		queue = append(queue, r)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		referrers, err := f.index.ReferrersOf(cur)
		if err != nil {
			return nil, err
		}
		for _, h := range referrers {
			r := ObjRef(h)
			k := r.Key()
			if _, seen := set[k]; seen {
				continue
			}
			set[k] = r
			queue = append(queue, r)
		}
	}

	f.cache.Add(remotePerson, set)
	return set, nil
}

// Invalidate drops remotePerson's cached accessible set (e.g. after a new
// grant or a new object is stored that the reverse index now covers) and
// fires every registered OnAccessibleChange watcher, matching the
// exporter's NewAccessibleRoot duty of §4.8.
func (f *ReverseMapFilter) Invalidate(remotePerson core.IdHash) {
	f.cache.Remove(remotePerson)

	f.mu.Lock()
	chans := f.watchers[remotePerson]
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
			// Best-effort signal per §5; the importer re-polls regardless.
		}
	}
}

// OnAccessibleChange returns a channel that receives a value whenever
// remotePerson's accessible set is invalidated. The channel is buffered by
// one and never closed; callers drain it from their own event loop.
func (f *ReverseMapFilter) OnAccessibleChange(remotePerson core.IdHash) <-chan struct{} {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.watchers[remotePerson] = append(f.watchers[remotePerson], ch)
	f.mu.Unlock()
	return ch
}
