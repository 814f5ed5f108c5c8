package microdata

import (
	"crypto/sha256"

	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
)

// ObjectHash serializes obj and returns (hash, microdata). hash is the
// SHA-256 digest of the UTF-8 serialization bytes, as specified in §4.2.
func ObjectHash(obj *object.Object, r *recipe.Recipe) (core.Hash, string, error) {
	s, err := Serialize(obj, r)
	if err != nil {
		return core.Hash{}, "", err
	}
	return core.Hash(sha256.Sum256([]byte(s))), s, nil
}

// IdObjectHash serializes obj's id-projection and returns (idHash,
// id-microdata).
func IdObjectHash(obj *object.Object, r *recipe.Recipe) (core.IdHash, string, error) {
	s, err := SerializeIdProjection(obj, r)
	if err != nil {
		return core.IdHash{}, "", err
	}
	return core.IdHash(sha256.Sum256([]byte(s))), s, nil
}
