package access

import (
	"sync"

	"onecore/core"
	"onecore/internal/store"
)

// rmapStore is the subset of *store.FSStore that FSReverseIndex needs. It
// exists so tests can substitute an in-memory double without pulling in
// afero.
type rmapStore interface {
	RecordReferrer(targetKey string, referrer core.Hash) error
	ReferrersOf(targetKey string) ([]core.Hash, error)
}

var (
	_ rmapStore    = (*store.FSStore)(nil)
	_ ReverseIndex = (*FSReverseIndex)(nil)
)

// FSReverseIndex is the default ReverseIndex, backed by the rmaps/ area of a
// Store for ReferrersOf and an in-process grant table for GrantedRoots.
// Grants are application-level decisions (§6 calls them a "declared
// per-person grant list") and have no dedicated on-disk area of their own in
// the persisted-state layout, so they live in memory here; a deployment that
// needs grants to survive a restart persists them itself and replays Grant
// calls on startup.
type FSReverseIndex struct {
	store rmapStore

	mu     sync.RWMutex
	grants map[core.IdHash][]Ref
}

// NewFSReverseIndex wires a FSReverseIndex over store's rmaps area.
func NewFSReverseIndex(s *store.FSStore) *FSReverseIndex {
	return &FSReverseIndex{
		store:  s,
		grants: make(map[core.IdHash][]Ref),
	}
}

// Grant records that ref is directly shared with remotePerson. Idempotent.
func (idx *FSReverseIndex) Grant(remotePerson core.IdHash, ref Ref) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, existing := range idx.grants[remotePerson] {
		if existing.Key() == ref.Key() {
			return
		}
	}
	idx.grants[remotePerson] = append(idx.grants[remotePerson], ref)
}

// Revoke removes ref from remotePerson's granted roots, if present.
func (idx *FSReverseIndex) Revoke(remotePerson core.IdHash, ref Ref) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	roots := idx.grants[remotePerson]
	for i, existing := range roots {
		if existing.Key() == ref.Key() {
			idx.grants[remotePerson] = append(roots[:i], roots[i+1:]...)
			return
		}
	}
}

// GrantedRoots implements ReverseIndex.
func (idx *FSReverseIndex) GrantedRoots(remotePerson core.IdHash) ([]Ref, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	roots := idx.grants[remotePerson]
	out := make([]Ref, len(roots))
	copy(out, roots)
	return out, nil
}

// ReferrersOf implements ReverseIndex by reading the rmaps/ entry recorded
// for target.
func (idx *FSReverseIndex) ReferrersOf(target Ref) ([]core.Hash, error) {
	return idx.store.ReferrersOf(refTargetKey(target))
}

// RecordReferrer notes that referrer directly references target, updating
// the rmaps/ entry that ReferrersOf later reads. Callers invoke this
// whenever they persist an object carrying a link to target (the recipe
// layer's microdata walk surfaces those links).
func (idx *FSReverseIndex) RecordReferrer(target Ref, referrer core.Hash) error {
	return idx.store.RecordReferrer(refTargetKey(target), referrer)
}

func refTargetKey(r Ref) string {
	if r.IsId {
		return "id:" + r.IdHash.String()
	}
	return "obj:" + r.Hash.String()
}
