package store

import (
	"encoding/hex"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"onecore/core"
	"onecore/pkg/errcode"
)

// RecordReferrer appends referrer to the reverse-map entry for targetKey (the
// rmaps/ area of §6's persisted-state layout: "id-hash -> set of hashes
// referencing it", generalized here to any string key so callers can also
// index referrers of a plain content hash). Idempotent: recording the same
// referrer twice is a no-op.
func (s *FSStore) RecordReferrer(targetKey string, referrer core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.rmapPath(targetKey)
	existing, err := s.readRMapLocked(path)
	if err != nil {
		return err
	}
	referrerHex := referrer.String()
	for _, h := range existing {
		if h == referrerHex {
			return nil
		}
	}
	existing = append(existing, referrerHex)
	if err := afero.WriteFile(s.fs, path, []byte(strings.Join(existing, "\n")+"\n"), 0o644); err != nil {
		zap.L().Error("store: write rmap failed", zap.String("target", targetKey), zap.Error(err))
		return errcode.Wrap(errcode.Internal, "store: write rmap "+targetKey, err)
	}
	return nil
}

// ReferrersOf returns every hash recorded as referencing targetKey, or an
// empty slice if none are recorded.
func (s *FSStore) ReferrersOf(targetKey string) ([]core.Hash, error) {
	s.mu.Lock()
	lines, err := s.readRMapLocked(s.rmapPath(targetKey))
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	hashes := make([]core.Hash, 0, len(lines))
	for _, line := range lines {
		h, err := core.HashFromHex(line)
		if err != nil {
			return nil, errcode.Wrap(errcode.Internal, "store: decode rmap entry for "+targetKey, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *FSStore) rmapPath(targetKey string) string {
	return s.areaDir(core.AreaRMaps) + "/" + hex.EncodeToString([]byte(targetKey))
}

func (s *FSStore) readRMapLocked(path string) ([]string, error) {
	exists, _ := afero.Exists(s.fs, path)
	if !exists {
		return nil, nil
	}
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "store: read rmap "+path, err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
