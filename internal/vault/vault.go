package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/crypto/scrypt"
)

// Envelope layout: hex(salt ∥ iv ∥ authTag ∥ ciphertext)
// ARCHITECTURAL DISCOVERY: Self-describing ciphertext carries its own salt,
// IV and authentication tag, so stored logs decrypt with only the key
const (
	keyLength  = 32
	ivLength   = 16
	saltLength = 64
	tagLength  = 16

	tagPosition       = saltLength + ivLength
	encryptedPosition = tagPosition + tagLength
)

var (
	ErrInvalidKey      = errors.New("encryption key must be 32 bytes (64 hex characters)")
	ErrInvalidEnvelope = errors.New("ciphertext envelope is malformed")
	ErrDecryptFailed   = errors.New("failed to decrypt data")
)

// Vault encrypts and decrypts conversation logs with AES-256-GCM
type Vault struct {
	key []byte
}

// New creates a vault from a hex-encoded 256-bit key. An empty key falls
// back to a scrypt-derived default.
// FUNCTIONAL DISCOVERY: The fallback keeps development friction low but is
// NOT SECURE FOR PRODUCTION - the passphrase and salt are fixed constants
func New(hexKey string) (*Vault, error) {
	if hexKey == "" {
		log.Println("ENCRYPTION_KEY not set. Using scrypt-derived default (NOT SECURE FOR PRODUCTION)")
		key, err := scrypt.Key([]byte("default-key-change-in-production"), []byte("salt"), 16384, 8, 1, keyLength)
		if err != nil {
			return nil, fmt.Errorf("failed to derive fallback key: %w", err)
		}
		return &Vault{key: key}, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != keyLength {
		return nil, ErrInvalidKey
	}
	return &Vault{key: key}, nil
}

// Encrypt seals plaintext into a hex-encoded envelope.
// Empty input passes through unchanged, matching the storage contract for
// optional fields
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := v.newGCM()
	if err != nil {
		return "", err
	}

	// TECHNICAL DISCOVERY: Go appends the auth tag to the ciphertext; the
	// envelope layout wants it between the IV and the ciphertext, so the
	// sealed output is split and reassembled
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	envelope := make([]byte, 0, encryptedPosition+len(ciphertext))
	envelope = append(envelope, salt...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)

	return hex.EncodeToString(envelope), nil
}

// Decrypt opens a hex-encoded envelope back into plaintext.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return encrypted, nil
	}

	envelope, err := hex.DecodeString(encrypted)
	if err != nil || len(envelope) < encryptedPosition {
		return "", ErrInvalidEnvelope
	}

	iv := envelope[saltLength:tagPosition]
	tag := envelope[tagPosition:encryptedPosition]
	ciphertext := envelope[encryptedPosition:]

	gcm, err := v.newGCM()
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// newGCM builds the AEAD with the envelope's 16-byte nonce size
func (v *Vault) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
