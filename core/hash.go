// Package core defines the fundamental addressing types shared by every
// subsystem of the object database: content hashes, identity hashes and the
// small set of reference "link kinds" used throughout the microdata codec,
// the version graph and the Chum wire protocol.
package core

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of a SHA-256 digest.
const HashSize = 32

// Hash is the SHA-256 digest of an object's canonical microdata
// serialization. It names an immutable, content-addressed object.
type Hash [HashSize]byte

// IdHash is the SHA-256 digest of a versioned object's id-projection
// microdata. It names an entity across all of its versions. Hash and IdHash
// are deliberately distinct types so that a hash can never be passed where an
// id-hash is expected, or vice versa, without an explicit conversion.
type IdHash [HashSize]byte

// ZeroHash is the nil value of Hash, never produced by hashing.
var ZeroHash Hash

// ZeroIdHash is the nil value of IdHash, never produced by hashing.
var ZeroIdHash IdHash

func (h Hash) String() string   { return hex.EncodeToString(h[:]) }
func (h IdHash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool { return h == ZeroHash }

// IsZero reports whether h is the zero value.
func (h IdHash) IsZero() bool { return h == ZeroIdHash }

// HashFromHex parses a 64-character lowercase hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// IdHashFromHex parses a 64-character lowercase hex string into an IdHash.
func IdHashFromHex(s string) (IdHash, error) {
	var h IdHash
	b, err := decodeHex(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) != HashSize*2 {
		return nil, fmt.Errorf("hash: expected %d hex chars, got %d", HashSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	return b, nil
}

// LinkKind identifies what a hash-link inside microdata points to.
type LinkKind string

const (
	LinkObj  LinkKind = "obj"
	LinkId   LinkKind = "id"
	LinkClob LinkKind = "clob"
	LinkBlob LinkKind = "blob"
)

// Area names a sub-area of the object store, per the persisted-state layout.
type Area string

const (
	AreaObjects Area = "objects"
	AreaPrivate Area = "private"
	AreaTmp     Area = "tmp"
	AreaRMaps   Area = "rmaps"
	AreaVHeads  Area = "vheads"
	AreaACache  Area = "acache"
)
