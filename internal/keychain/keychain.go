// Package keychain implements the secret-key file lifecycle named in §3's
// "Lifecycle" paragraph and §9's zero-nonce secretbox note: a Keys object's
// matching secret material is symmetrically encrypted under a
// password-derived master key and stored outside the addressable object
// space, under "<keysHashHex>.encrypt" / ".sign" in the store's private
// area. Keychain and master-key management are themselves external
// collaborators per §1; this package is the default implementation a
// runnable instance wires in.
package keychain

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"

	"onecore/core"
	"onecore/pkg/errcode"
)

// pbkdfIterations mirrors the teacher's wallet keystore derivation cost.
const pbkdfIterations = 150_000

// masterKeySize is secretbox's required 32-byte key size.
const masterKeySize = 32

// MasterKey is a derived symmetric key guarding one Keys object's secret
// material. It is never itself persisted; DeriveMasterKey recomputes it from
// the operator-supplied password on demand.
type MasterKey [masterKeySize]byte

// DeriveMasterKey derives a MasterKey from password, salted by keysHash so
// that two Keys objects never share a derivation even under password reuse.
func DeriveMasterKey(password string, keysHash core.Hash) MasterKey {
	derived := pbkdf2.Key([]byte(password), keysHash[:], pbkdfIterations, masterKeySize, sha256.New)
	var mk MasterKey
	copy(mk[:], derived)
	return mk
}

// PrivateWriter is the subset of the Object Store's private-area contract
// (§6) the keychain needs: write/read of named files under "private/", plus
// the removal internal/store.FSStore adds for ".bak" cleanup.
type PrivateWriter interface {
	WritePrivateBytes(filename string, data []byte) error
	ReadPrivateBytes(filename string) ([]byte, error)
	RemovePrivateBytes(filename string) error
}

// Store wires the keychain's file lifecycle against a concrete private-area
// writer (normally internal/store.FSStore).
type Store struct {
	priv PrivateWriter
}

func NewStore(priv PrivateWriter) *Store {
	return &Store{priv: priv}
}

func encryptFilename(keysHash core.Hash) string { return keysHash.String() + ".encrypt" }
func signFilename(keysHash core.Hash) string    { return keysHash.String() + ".sign" }
func bakSuffix(name string) string              { return name + ".bak" }

// seal encrypts plaintext under key using a zero nonce. This is safe only
// because DeriveMasterKey produces a key unique to (password, keysHash): the
// (key, nonce) pair this secretbox call uses is never reused across Keys
// objects, and only ever for the one message stored under this filename.
func seal(key MasterKey, plaintext []byte) []byte {
	var nonce [24]byte
	return secretbox.Seal(nonce[:], plaintext, &nonce, (*[masterKeySize]byte)(&key))
}

func open(key MasterKey, sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errcode.New(errcode.Internal, "keychain: sealed blob too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, (*[masterKeySize]byte)(&key))
	if !ok {
		return nil, errcode.New(errcode.Internal, "keychain: secretbox authentication failed")
	}
	return plain, nil
}

// Import creates the "<keysHash>.encrypt"/".sign" files for a freshly
// generated keypair, encrypting encryptSecret and signSecret under a master
// key derived from password.
func (s *Store) Import(keysHash core.Hash, password string, encryptSecret, signSecret []byte) error {
	mk := DeriveMasterKey(password, keysHash)
	if err := s.priv.WritePrivateBytes(encryptFilename(keysHash), seal(mk, encryptSecret)); err != nil {
		zap.L().Error("keychain: write encrypt secret failed", zap.String("keysHash", keysHash.String()), zap.Error(err))
		return errcode.Wrap(errcode.Internal, "keychain: write encrypt secret", err)
	}
	if err := s.priv.WritePrivateBytes(signFilename(keysHash), seal(mk, signSecret)); err != nil {
		zap.L().Error("keychain: write sign secret failed", zap.String("keysHash", keysHash.String()), zap.Error(err))
		return errcode.Wrap(errcode.Internal, "keychain: write sign secret", err)
	}
	zap.L().Sugar().Infof("keychain: imported secret material for %s", keysHash.String())
	return nil
}

// Open decrypts both secret files for keysHash under the given password.
func (s *Store) Open(keysHash core.Hash, password string) (encryptSecret, signSecret []byte, err error) {
	mk := DeriveMasterKey(password, keysHash)
	encSealed, err := s.priv.ReadPrivateBytes(encryptFilename(keysHash))
	if err != nil {
		return nil, nil, errcode.Wrap(errcode.Internal, "keychain: read encrypt secret", err)
	}
	signSealed, err := s.priv.ReadPrivateBytes(signFilename(keysHash))
	if err != nil {
		return nil, nil, errcode.Wrap(errcode.Internal, "keychain: read sign secret", err)
	}
	encryptSecret, err = open(mk, encSealed)
	if err != nil {
		return nil, nil, err
	}
	signSecret, err = open(mk, signSealed)
	if err != nil {
		return nil, nil, err
	}
	return encryptSecret, signSecret, nil
}

// Rewrite implements the password-change lifecycle of §3: both secret files
// are rewritten under the new password, keeping a ".bak" of each original
// until both rewrites succeed, then removing the backups. If either rewrite
// fails, both originals are restored from their backups so the key pair is
// never left half-migrated.
func (s *Store) Rewrite(keysHash core.Hash, oldPassword, newPassword string) (err error) {
	encryptSecret, signSecret, err := s.Open(keysHash, oldPassword)
	if err != nil {
		return err
	}

	encName, signName := encryptFilename(keysHash), signFilename(keysHash)
	encBak, signBak := bakSuffix(encName), bakSuffix(signName)

	origEnc, err := s.priv.ReadPrivateBytes(encName)
	if err != nil {
		return errcode.Wrap(errcode.Internal, "keychain: read original encrypt file", err)
	}
	origSign, err := s.priv.ReadPrivateBytes(signName)
	if err != nil {
		return errcode.Wrap(errcode.Internal, "keychain: read original sign file", err)
	}
	if err := s.priv.WritePrivateBytes(encBak, origEnc); err != nil {
		return errcode.Wrap(errcode.Internal, "keychain: write encrypt backup", err)
	}
	if err := s.priv.WritePrivateBytes(signBak, origSign); err != nil {
		return errcode.Wrap(errcode.Internal, "keychain: write sign backup", err)
	}

	newMK := DeriveMasterKey(newPassword, keysHash)
	restore := func(writeErr error) error {
		_ = s.priv.WritePrivateBytes(encName, origEnc)
		_ = s.priv.WritePrivateBytes(signName, origSign)
		zap.L().Error("keychain: rewrite failed, restored originals", zap.String("keysHash", keysHash.String()), zap.Error(writeErr))
		return fmt.Errorf("keychain: rewrite failed, restored originals: %w", writeErr)
	}

	if err := s.priv.WritePrivateBytes(encName, seal(newMK, encryptSecret)); err != nil {
		return restore(err)
	}
	if err := s.priv.WritePrivateBytes(signName, seal(newMK, signSecret)); err != nil {
		return restore(err)
	}

	// Both rewrites succeeded; drop the backups per §3's lifecycle
	// paragraph. A failed removal is returned as an error, but the rewrite
	// has already taken effect: a leftover ".bak" is inert once the live
	// files have moved on.
	if err := s.priv.RemovePrivateBytes(encBak); err != nil {
		return fmt.Errorf("keychain: rewrite succeeded but leaving stale backup %s: %w", encBak, err)
	}
	if err := s.priv.RemovePrivateBytes(signBak); err != nil {
		return fmt.Errorf("keychain: rewrite succeeded but leaving stale backup %s: %w", signBak, err)
	}
	zap.L().Sugar().Infof("keychain: rotated secret material for %s", keysHash.String())
	return nil
}

func randomSecret(size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
