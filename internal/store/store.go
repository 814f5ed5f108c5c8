// Package store implements the Object Store Interface (§6) consumed by the
// rest of onecore: existence checks, text/byte/base64 reads, area-scoped
// writes and a streaming write path for BLOB/CLOB content. FSStore is the
// default implementation, backed by an afero.Fs so tests can run against an
// in-memory filesystem without touching disk.
package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"onecore/core"
	"onecore/pkg/errcode"
)

// Store is the Object Store Interface consumed by core/merge, internal/chum
// and internal/access. Hashes not otherwise qualified live in AreaObjects.
type Store interface {
	Exists(hash core.Hash, area core.Area) bool
	ReadText(hash core.Hash) (string, error)
	ReadBytes(hash core.Hash) ([]byte, error)
	ReadBytesBase64(hash core.Hash) (string, error)
	WriteText(text string, hash core.Hash) error
	WritePrivateBytes(filename string, data []byte) error
	ReadPrivateBytes(filename string) ([]byte, error)
	CreateWriteStream(encoding string) (WriteStream, error)

	// ReadVHead and WriteVHead address AreaVHeads, keyed by id-hash rather
	// than content hash. Not named individually in §6's Object store block
	// (which lists the area but not its accessors), but required by
	// internal/chum's importer/exporter to resolve "id" and "version_node"
	// accessible-root variants against the current head.
	ReadVHead(idHash core.IdHash) (head core.Hash, ok bool, err error)
	WriteVHead(idHash core.IdHash, head core.Hash) error
}

// WriteStream accepts a BLOB/CLOB body incrementally, hashing it as it goes,
// and on End atomically publishes it into AreaObjects under its content
// hash. Cancel discards the partial write; it is always safe to call Cancel
// after End or another Cancel.
type WriteStream interface {
	Write(p []byte) (int, error)
	End() (StreamResult, error)
	Cancel() error
}

// StreamResult is returned by WriteStream.End.
type StreamResult struct {
	Hash   core.Hash
	Status string
}

const (
	StatusOK      = "ok"
	StatusExisted = "existed"
)

// FSStore is the default Store, laying out the six areas of §6 as
// subdirectories of a single base directory.
type FSStore struct {
	fs      afero.Fs
	baseDir string

	mu sync.Mutex
}

// NewFSStore wires an FSStore over fs rooted at baseDir, creating the area
// subdirectories if absent. Like the teacher's core/data.go, the
// storage/object layer logs through the global zap logger rather than an
// injected one; network-facing packages (internal/chum, internal/transport,
// cmd/onecore) use logrus instead, same as the teacher keeps both side by
// side.
func NewFSStore(fs afero.Fs, baseDir string) (*FSStore, error) {
	s := &FSStore{fs: fs, baseDir: baseDir}
	for _, area := range []core.Area{core.AreaObjects, core.AreaPrivate, core.AreaTmp, core.AreaRMaps, core.AreaVHeads, core.AreaACache} {
		if err := s.fs.MkdirAll(s.areaDir(area), 0o755); err != nil {
			zap.L().Error("store: create area failed", zap.String("area", string(area)), zap.Error(err))
			return nil, errcode.Wrap(errcode.Internal, "store: create area "+string(area), err)
		}
	}
	zap.L().Sugar().Infof("store: opened at %s", baseDir)
	return s, nil
}

func (s *FSStore) areaDir(area core.Area) string {
	return s.baseDir + "/" + string(area)
}

func (s *FSStore) objectPath(hash core.Hash) string {
	return s.areaDir(core.AreaObjects) + "/" + hex.EncodeToString(hash[:])
}

// Exists reports whether hash has a persisted entry in area. Only
// AreaObjects is addressed by content hash; for other areas the hash's hex
// form is interpreted as the filename.
func (s *FSStore) Exists(hash core.Hash, area core.Area) bool {
	path := s.areaDir(area) + "/" + hex.EncodeToString(hash[:])
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// ReadText returns the UTF-8 contents stored for hash (a concrete object's
// canonical microdata, or a CLOB body).
func (s *FSStore) ReadText(hash core.Hash) (string, error) {
	b, err := s.ReadBytes(hash)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes returns the raw bytes stored for hash (a BLOB body, or the UTF-8
// bytes of a microdata/CLOB entry).
func (s *FSStore) ReadBytes(hash core.Hash) ([]byte, error) {
	b, err := afero.ReadFile(s.fs, s.objectPath(hash))
	if err != nil {
		zap.L().Error("store: read object failed", zap.String("hash", hash.String()), zap.Error(err))
		return nil, errcode.Wrap(errcode.Internal, "store: read object "+hash.String(), err)
	}
	return b, nil
}

// ReadBytesBase64 returns hash's stored bytes, base64-encoded for transport
// framing (§6's GetBlob "base64/utf-8 framed string stream" variant).
func (s *FSStore) ReadBytesBase64(hash core.Hash) (string, error) {
	b, err := s.ReadBytes(hash)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// WriteText persists text under AreaObjects keyed by hash, which the caller
// must have already computed (core/microdata.Hash or a CLOB hash). WriteText
// does not re-verify the hash; callers that accept untrusted input must
// verify before calling, per §7.
func (s *FSStore) WriteText(text string, hash core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.objectPath(hash)
	if ok, _ := afero.Exists(s.fs, path); ok {
		return nil
	}
	if err := afero.WriteFile(s.fs, path, []byte(text), 0o644); err != nil {
		zap.L().Error("store: write object failed", zap.String("hash", hash.String()), zap.Error(err))
		return errcode.Wrap(errcode.Internal, "store: write object "+hash.String(), err)
	}
	return nil
}

// WritePrivateBytes writes filename under AreaPrivate, used by
// internal/keychain for "<keysHashHex>.encrypt" / ".sign" artifacts.
func (s *FSStore) WritePrivateBytes(filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.areaDir(core.AreaPrivate) + "/" + filename
	if err := afero.WriteFile(s.fs, path, data, 0o600); err != nil {
		return errcode.Wrap(errcode.Internal, "store: write private "+filename, err)
	}
	return nil
}

// ReadPrivateBytes reads filename back from AreaPrivate.
func (s *FSStore) ReadPrivateBytes(filename string) ([]byte, error) {
	path := s.areaDir(core.AreaPrivate) + "/" + filename
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "store: read private "+filename, err)
	}
	return b, nil
}

// RemovePrivateBytes deletes filename from AreaPrivate. Not part of §6's
// named contract (which enumerates only reads/writes), but needed by
// internal/keychain to drop ".bak" files once a password-change rewrite
// fully succeeds (§3's lifecycle paragraph).
func (s *FSStore) RemovePrivateBytes(filename string) error {
	path := s.areaDir(core.AreaPrivate) + "/" + filename
	if err := s.fs.Remove(path); err != nil {
		return errcode.Wrap(errcode.Internal, "store: remove private "+filename, err)
	}
	return nil
}

func (s *FSStore) vheadPath(idHash core.IdHash) string {
	return s.areaDir(core.AreaVHeads) + "/" + hex.EncodeToString(idHash[:])
}

// ReadVHead returns the current head version-node hash recorded for
// idHash, or ok == false if this instance has never seen that id.
func (s *FSStore) ReadVHead(idHash core.IdHash) (core.Hash, bool, error) {
	path := s.vheadPath(idHash)
	exists, _ := afero.Exists(s.fs, path)
	if !exists {
		return core.Hash{}, false, nil
	}
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return core.Hash{}, false, errcode.Wrap(errcode.Internal, "store: read vhead "+idHash.String(), err)
	}
	h, err := core.HashFromHex(string(b))
	if err != nil {
		return core.Hash{}, false, errcode.Wrap(errcode.Internal, "store: decode vhead "+idHash.String(), err)
	}
	return h, true, nil
}

// WriteVHead records head as idHash's current version-node, overwriting any
// previous entry (the vhead pointer advances; it is not content-addressed).
func (s *FSStore) WriteVHead(idHash core.IdHash, head core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := afero.WriteFile(s.fs, s.vheadPath(idHash), []byte(head.String()), 0o644); err != nil {
		return errcode.Wrap(errcode.Internal, "store: write vhead "+idHash.String(), err)
	}
	return nil
}

// CreateWriteStream opens a tmp-area write target that hashes its content as
// written and, on End, copies it into AreaObjects under the computed hash
// and removes the tmp file.
// encoding is advisory metadata only (e.g. "base64", "utf-8"); callers must
// hand CreateWriteStream already-decoded bytes via Write.
func (s *FSStore) CreateWriteStream(encoding string) (WriteStream, error) {
	tmpName := s.areaDir(core.AreaTmp) + "/" + uuid.New().String()
	f, err := s.fs.Create(tmpName)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "store: open tmp stream", err)
	}
	return &fsWriteStream{store: s, f: f, tmpName: tmpName, hasher: sha256.New(), encoding: encoding}, nil
}

type fsWriteStream struct {
	store    *FSStore
	f        afero.File
	tmpName  string
	hasher   hash.Hash
	encoding string
	done     bool
}

func (w *fsWriteStream) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("store: write after end/cancel")
	}
	n, err := w.f.Write(p)
	if err != nil {
		return n, err
	}
	if _, herr := w.hasher.Write(p[:n]); herr != nil {
		return n, herr
	}
	return n, nil
}

func (w *fsWriteStream) End() (StreamResult, error) {
	if w.done {
		return StreamResult{}, fmt.Errorf("store: end called twice")
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		return StreamResult{}, err
	}
	sum := w.hasher.Sum(nil)
	var contentHash core.Hash
	copy(contentHash[:], sum)

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	finalPath := w.store.objectPath(contentHash)
	if ok, _ := afero.Exists(w.store.fs, finalPath); ok {
		_ = w.store.fs.Remove(w.tmpName)
		return StreamResult{Hash: contentHash, Status: StatusExisted}, nil
	}
	data, err := afero.ReadFile(w.store.fs, w.tmpName)
	if err != nil {
		return StreamResult{}, errcode.Wrap(errcode.Internal, "store: reread tmp stream", err)
	}
	if err := afero.WriteFile(w.store.fs, finalPath, data, 0o644); err != nil {
		zap.L().Error("store: publish stream failed", zap.String("hash", contentHash.String()), zap.Error(err))
		return StreamResult{}, errcode.Wrap(errcode.Internal, "store: publish stream", err)
	}
	_ = w.store.fs.Remove(w.tmpName)
	return StreamResult{Hash: contentHash, Status: StatusOK}, nil
}

func (w *fsWriteStream) Cancel() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return w.store.fs.Remove(w.tmpName)
}
