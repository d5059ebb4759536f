package storage

import "context"

// RawKeyStore adapts a Backend to crypto.KeyStore's synchronous, unencrypted
// Get/Set contract, so the Encryption Service can self-protect its data key
// by persisting directly through the same backend the Substrate sits on —
// without recursing through the Substrate's own encryption path.
type RawKeyStore struct {
	backend Backend
}

// NewRawKeyStore wraps backend for use as a crypto.KeyManager's KeyStore.
func NewRawKeyStore(backend Backend) *RawKeyStore {
	return &RawKeyStore{backend: backend}
}

func (k *RawKeyStore) Get(key string) ([]byte, bool, error) {
	return k.backend.Get(context.Background(), key)
}

func (k *RawKeyStore) Set(key string, value []byte) error {
	return k.backend.Set(context.Background(), key, value)
}
