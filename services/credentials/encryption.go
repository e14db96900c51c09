package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Encryptor seals credential payloads with envelope encryption.
// AES-256-GCM is used for both KEK→DEK and DEK→data.
type Encryptor struct {
	kek []byte
}

// NewEncryptor creates an encryptor with the given key encryption key.
// KEK must be exactly 32 bytes (256 bits).
func NewEncryptor(kek []byte) (*Encryptor, error) {
	if len(kek) != 32 {
		return nil, errors.New("KEK must be exactly 32 bytes")
	}
	return &Encryptor{kek: kek}, nil
}

// ParseKey decodes a 32-byte key given as base64 or hex
func ParseKey(s string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := hex.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, errors.New("encryption key must be 32 bytes, base64 or hex encoded")
}

// sealedEnvelope is the stored form of a sealed payload
type sealedEnvelope struct {
	Ciphertext   []byte `json:"ct"`
	Nonce        []byte `json:"n"`
	EncryptedDEK []byte `json:"dek"`
	DEKNonce     []byte `json:"dn"`
}

// Seal encrypts plaintext under a fresh data key
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	dek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}

	ciphertext, nonce, err := encryptWithKey(dek, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	encryptedDEK, dekNonce, err := encryptWithKey(e.kek, dek)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt DEK: %w", err)
	}

	return json.Marshal(sealedEnvelope{
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		EncryptedDEK: encryptedDEK,
		DEKNonce:     dekNonce,
	})
}

// Open reverses Seal
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	var env sealedEnvelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("malformed sealed payload: %w", err)
	}

	dek, err := decryptWithKey(e.kek, env.EncryptedDEK, env.DEKNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt DEK: %w", err)
	}

	plaintext, err := decryptWithKey(dek, env.Ciphertext, env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}

func encryptWithKey(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func decryptWithKey(key, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// plainCodec stores payloads as-is, for development without ENCRYPTION_KEY
type plainCodec struct{}

func (plainCodec) Seal(p []byte) ([]byte, error) { return p, nil }
func (plainCodec) Open(p []byte) ([]byte, error) { return p, nil }
