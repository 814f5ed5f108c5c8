package microdata

import (
	"sort"

	"onecore/core"
	"onecore/pkg/errcode"
)

// maxImplodeDepth bounds inlining recursion. The object graph is an
// immutable DAG addressed by content hash, so a cycle is structurally
// impossible; this only guards against a Fetcher that lies about hashes.
const maxImplodeDepth = 256

// Fetcher supplies the raw microdata/CLOB/BLOB content Implode needs to
// inline hash-links. It is a thin view over the object store (§6).
type Fetcher interface {
	GetObject(h core.Hash) (string, error)
	GetClob(h core.Hash) (string, error)
	GetBlob(h core.Hash) (string, error)
}

// ResolveId resolves an id-hash to the concrete hash that should be inlined
// in its place — by default, an id's current version-graph head.
type ResolveId func(id core.IdHash) (core.Hash, error)

// Implode returns a self-contained microdata string with every hash-link
// reachable from rootHash inlined recursively in place of its link. The
// result is never written back to the store.
func Implode(rootHash core.Hash, fetch Fetcher, resolve ResolveId) (string, error) {
	root, err := fetch.GetObject(rootHash)
	if err != nil {
		return "", err
	}
	return implodeString(root, fetch, resolve, 0)
}

func implodeString(data string, fetch Fetcher, resolve ResolveId, depth int) (string, error) {
	if depth > maxImplodeDepth {
		return "", errcode.New(errcode.Internal, "implode: exceeded maximum recursion depth")
	}
	byProp, err := FindAllHashLinks(data)
	if err != nil {
		return "", err
	}
	var all []Occurrence
	for _, list := range byProp {
		all = append(all, list...)
	}
	if len(all) == 0 {
		return data, nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start > all[j].Start })

	out := data
	for _, occ := range all {
		inline, err := resolveOccurrence(occ, fetch, resolve, depth)
		if err != nil {
			return "", err
		}
		out = out[:occ.Start] + inline + out[occ.End:]
	}
	return out, nil
}

func resolveOccurrence(occ Occurrence, fetch Fetcher, resolve ResolveId, depth int) (string, error) {
	switch occ.LinkKind {
	case core.LinkObj:
		child, err := fetch.GetObject(occ.Hash)
		if err != nil {
			return "", err
		}
		return implodeString(child, fetch, resolve, depth+1)
	case core.LinkId:
		if resolve == nil {
			return "", errcode.New(errcode.Internal, "implode: id-reference requires a ResolveId function")
		}
		head, err := resolve(occ.IdHash)
		if err != nil {
			return "", err
		}
		child, err := fetch.GetObject(head)
		if err != nil {
			return "", err
		}
		return implodeString(child, fetch, resolve, depth+1)
	case core.LinkClob:
		return fetch.GetClob(occ.Hash)
	case core.LinkBlob:
		return fetch.GetBlob(occ.Hash)
	}
	return "", errcode.New(errcode.Internal, "implode: unknown link kind")
}
