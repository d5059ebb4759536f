package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// ReservedKeyName is the well-known storage key the root-protected data key
// is persisted under (spec §6: "_auth_encryption_key (self-protected)").
const ReservedKeyName = "_auth_encryption_key"

// PBKDF2Iterations is the iteration count used for root-key derivation, above
// the ≥100,000 minimum of spec §4.2.
const PBKDF2Iterations = 150_000

// KeyStore is the minimal persistence seam the key manager needs — satisfied
// by storage.RawKeyStore (a storage.Backend adapter) without crypto importing
// the storage package.
type KeyStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// persistedKey is the on-disk shape behind ReservedKeyName: a persisted
// random salt plus the data key, self-encrypted under the secret-derived
// root key. The version byte exists to permit future key rotation.
type persistedKey struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Envelope *Envelope `json:"envelope"`
}

// KeyManager owns the SDK's single symmetric data key in memory, generating
// it on first use and re-importing it on subsequent startups (spec §4.2).
// Key rotation is out of scope; the Version field exists to permit it later.
type KeyManager struct {
	mu      sync.RWMutex
	dataKey []byte
	store   KeyStore
	secret  []byte
}

// NewKeyManager returns a KeyManager that persists the data key through
// store, self-protected by a PBKDF2 key derived from secret.
func NewKeyManager(store KeyStore, secret string) *KeyManager {
	return &KeyManager{store: store, secret: []byte(secret)}
}

// EnsureKey returns the current data key, generating and persisting one on
// first use, or re-importing the previously persisted key.
func (m *KeyManager) EnsureKey() ([]byte, error) {
	m.mu.RLock()
	if m.dataKey != nil {
		key := m.dataKey
		m.mu.RUnlock()
		return key, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dataKey != nil {
		return m.dataKey, nil
	}

	raw, found, err := m.store.Get(ReservedKeyName)
	if err != nil {
		return nil, sdkerrors.EncryptionUnavailable(err)
	}
	if found {
		key, err := m.unseal(raw)
		if err != nil {
			return nil, err
		}
		m.dataKey = key
		return key, nil
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := m.persist(key); err != nil {
		return nil, err
	}
	m.dataKey = key
	return key, nil
}

func (m *KeyManager) rootKey(salt []byte) []byte {
	return pbkdf2.Key(m.secret, salt, PBKDF2Iterations, 32, sha256.New)
}

func (m *KeyManager) persist(dataKey []byte) error {
	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	root := m.rootKey(salt)

	env, err := Encrypt(root, []byte(ReservedKeyName), dataKey)
	if err != nil {
		return err
	}

	blob := persistedKey{Version: 1, Salt: base64.StdEncoding.EncodeToString(salt), Envelope: env}
	raw, err := json.Marshal(blob)
	if err != nil {
		return sdkerrors.Internal("marshal persisted key", err)
	}
	if err := m.store.Set(ReservedKeyName, raw); err != nil {
		return sdkerrors.EncryptionUnavailable(err)
	}
	return nil
}

func (m *KeyManager) unseal(raw []byte) ([]byte, error) {
	var blob persistedKey
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, sdkerrors.EncryptionUnavailable(fmt.Errorf("unmarshal persisted key: %w", err))
	}
	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return nil, sdkerrors.EncryptionUnavailable(fmt.Errorf("decode salt: %w", err))
	}
	root := m.rootKey(salt)
	return Decrypt(root, []byte(ReservedKeyName), blob.Envelope)
}
