// Package crypto provides the Encryption Service: AES-GCM-256 authenticated
// encryption with associated data, and PBKDF2-derived root-key management
// persisted through a caller-supplied key store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// Envelope is the on-disk ciphertext shape from spec §6:
// {alg:"AES-GCM", iv:<base64>, tag:<base64>, ct:<base64>, v:1}.
type Envelope struct {
	Alg string `json:"alg"`
	IV  string `json:"iv"`
	Tag string `json:"tag"`
	CT  string `json:"ct"`
	V   int    `json:"v"`
}

// Encrypt seals plaintext under key with aad as the GCM associated data
// (the entry key, per spec §4.2). A fresh random nonce is used for every call.
func Encrypt(key, aad, plaintext []byte) (*Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("read nonce: %w", err))
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	tagSize := aead.Overhead()
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &Envelope{
		Alg: "AES-GCM",
		IV:  base64.StdEncoding.EncodeToString(nonce),
		Tag: base64.StdEncoding.EncodeToString(tag),
		CT:  base64.StdEncoding.EncodeToString(ct),
		V:   1,
	}, nil
}

// Decrypt opens an Envelope produced by Encrypt, verifying aad and the
// authentication tag. Returns EncryptionFailed on any tampering or mismatch.
func Decrypt(key, aad []byte, env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("nil envelope"))
	}
	if env.Alg != "AES-GCM" {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("unsupported algorithm %q", env.Alg))
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("decode iv: %w", err))
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("decode tag: %w", err))
	}
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("decode ciphertext: %w", err))
	}

	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("decrypt: %w", err))
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, sdkerrors.EncryptionUnavailable(fmt.Errorf("key must be 32 bytes, got %d", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, sdkerrors.EncryptionUnavailable(fmt.Errorf("new cipher: %w", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, sdkerrors.EncryptionUnavailable(fmt.Errorf("new gcm: %w", err))
	}
	return aead, nil
}

// GenerateKey returns a fresh random 256-bit symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("generate key: %w", err))
	}
	return key, nil
}

// GenerateSalt returns a fresh random salt for root-key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, sdkerrors.EncryptionFailed(fmt.Errorf("generate salt: %w", err))
	}
	return salt, nil
}
