package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// subkeyInfoPrefix namespaces the HKDF info parameter so a storage entry key
// can never collide with an unrelated derivation context.
const subkeyInfoPrefix = "acube:entry:"

// Service is the Encryption Service facade consumed by the storage
// substrate and the token store: it owns the data key in memory and, per
// entry, derives a dedicated AES-GCM subkey via HKDF-SHA256 (mirrors the
// teacher's wallet-nonce HKDF derivation, generalized from a one-shot nonce
// to a per-entry encryption subkey) rather than reusing the root data key
// directly. A compromised entry key's derived subkey reveals nothing about
// the root data key or any other entry's subkey.
type Service struct {
	keys *KeyManager
}

// NewService builds an Encryption Service persisting its data key through store.
func NewService(store KeyStore, secret string) *Service {
	return &Service{keys: NewKeyManager(store, secret)}
}

// deriveSubkey expands dataKey into a 32-byte subkey scoped to entryKey.
func deriveSubkey(dataKey []byte, entryKey string) ([]byte, error) {
	r := hkdf.New(sha256.New, dataKey, nil, []byte(subkeyInfoPrefix+entryKey))
	sub := make([]byte, 32)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("derive entry subkey: %w", err))
	}
	return sub, nil
}

// EncryptEntry encrypts plaintext under a subkey derived for entryKey, using
// entryKey again as associated data so ciphertexts cannot be silently
// swapped between keys even if subkey derivation were ever reused.
func (s *Service) EncryptEntry(entryKey string, plaintext []byte) (*Envelope, error) {
	key, err := s.keys.EnsureKey()
	if err != nil {
		return nil, err
	}
	sub, err := deriveSubkey(key, entryKey)
	if err != nil {
		return nil, err
	}
	return Encrypt(sub, []byte(entryKey), plaintext)
}

// DecryptEntry reverses EncryptEntry.
func (s *Service) DecryptEntry(entryKey string, env *Envelope) ([]byte, error) {
	key, err := s.keys.EnsureKey()
	if err != nil {
		return nil, err
	}
	sub, err := deriveSubkey(key, entryKey)
	if err != nil {
		return nil, err
	}
	return Decrypt(sub, []byte(entryKey), env)
}
