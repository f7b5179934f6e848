package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// BlobVersion is the current EncryptedBlob scheme version. Blobs carrying any
// other version fail decryption.
const BlobVersion = 1

// EncryptedBlob is the only at-rest representation of a token: hex-encoded
// AES-256-GCM ciphertext with its per-call nonce and authentication tag
// stored as separate fields.
type EncryptedBlob struct {
	Version    int    `json:"v"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	AuthTag    string `json:"authTag"`
}

// Encryptor handles token encryption at rest using AES-256-GCM.
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes for AES-256, got %d", len(key))
	}
	return &Encryptor{key: key}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with a fresh random nonce.
// An empty plaintext returns a nil blob (the absent-value marker).
func (e *Encryptor) Encrypt(plaintext string) (*EncryptedBlob, error) {
	if plaintext == "" {
		return nil, nil
	}

	gcm, err := e.newGCM()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the authentication tag to the ciphertext; split it back
	// out so the stored blob keeps ciphertext, nonce, and tag as separate
	// fields.
	tagStart := len(sealed) - gcm.Overhead()
	return &EncryptedBlob{
		Version:    BlobVersion,
		Ciphertext: hex.EncodeToString(sealed[:tagStart]),
		Nonce:      hex.EncodeToString(nonce),
		AuthTag:    hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt decrypts an EncryptedBlob using AES-256-GCM. It fails closed on a
// missing blob or blob field, malformed hex, an unsupported scheme version,
// or an authentication failure (tampered data or wrong key); it never returns
// partial plaintext.
func (e *Encryptor) Decrypt(blob *EncryptedBlob) (string, error) {
	if blob == nil {
		return "", fmt.Errorf("missing encrypted blob")
	}
	if blob.Version != BlobVersion {
		return "", fmt.Errorf("unsupported blob version %d", blob.Version)
	}
	if blob.Ciphertext == "" || blob.Nonce == "" || blob.AuthTag == "" {
		return "", fmt.Errorf("encrypted blob is missing fields")
	}

	ciphertext, err := hex.DecodeString(blob.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	nonce, err := hex.DecodeString(blob.Nonce)
	if err != nil {
		return "", fmt.Errorf("failed to decode nonce: %w", err)
	}
	tag, err := hex.DecodeString(blob.AuthTag)
	if err != nil {
		return "", fmt.Errorf("failed to decode auth tag: %w", err)
	}

	gcm, err := e.newGCM()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (e *Encryptor) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateKey generates a new 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromHex decodes a hex-encoded encryption key (64 hex characters)
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// KeyToHex encodes an encryption key to hex
func KeyToHex(key []byte) string {
	return hex.EncodeToString(key)
}
