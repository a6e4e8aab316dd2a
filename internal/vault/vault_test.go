package vault

import (
	"encoding/hex"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestVault_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid 64 hex chars", testKey, nil},
		{"empty falls back to derived key", "", nil},
		{"too short", "abcd", ErrInvalidKey},
		{"not hex", strings.Repeat("zz", 32), ErrInvalidKey},
		{"wrong length hex", strings.Repeat("ab", 16), ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key)
			if err != tt.wantErr {
				t.Errorf("New(%q) error = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	plaintexts := []string{
		"hello",
		"a longer conversation log entry with punctuation, numbers 123 and symbols !@#",
		"unicode: héllo wörld 子供",
		strings.Repeat("x", 10000),
	}

	for _, plaintext := range plaintexts {
		encrypted, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if encrypted == plaintext {
			t.Error("Ciphertext must differ from plaintext")
		}

		decrypted, err := v.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("Round trip mismatch: got %q", decrypted)
		}
	}
}

func TestVault_EmptyPassthrough(t *testing.T) {
	v, _ := New(testKey)

	encrypted, err := v.Encrypt("")
	if err != nil || encrypted != "" {
		t.Errorf("Empty plaintext should pass through, got (%q, %v)", encrypted, err)
	}

	decrypted, err := v.Decrypt("")
	if err != nil || decrypted != "" {
		t.Errorf("Empty ciphertext should pass through, got (%q, %v)", decrypted, err)
	}
}

func TestVault_EnvelopeLayout(t *testing.T) {
	v, _ := New(testKey)

	plaintext := "layout check"
	encrypted, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	envelope, err := hex.DecodeString(encrypted)
	if err != nil {
		t.Fatalf("Envelope is not valid hex: %v", err)
	}

	// salt(64) + iv(16) + tag(16) + ciphertext(len(plaintext) for GCM)
	expected := saltLength + ivLength + tagLength + len(plaintext)
	if len(envelope) != expected {
		t.Errorf("Expected envelope of %d bytes, got %d", expected, len(envelope))
	}
}

func TestVault_UniqueEnvelopesPerCall(t *testing.T) {
	v, _ := New(testKey)

	first, _ := v.Encrypt("same plaintext")
	second, _ := v.Encrypt("same plaintext")

	// Fresh random IV per call means identical plaintexts never repeat
	if first == second {
		t.Error("Two encryptions of the same plaintext must differ")
	}
}

func TestVault_TamperDetection(t *testing.T) {
	v, _ := New(testKey)

	encrypted, err := v.Encrypt("sensitive conversation")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip one byte of ciphertext
	envelope, _ := hex.DecodeString(encrypted)
	envelope[len(envelope)-1] ^= 0xff
	tampered := hex.EncodeToString(envelope)

	if _, err := v.Decrypt(tampered); err != ErrDecryptFailed {
		t.Errorf("Expected ErrDecryptFailed for tampered envelope, got %v", err)
	}
}

func TestVault_MalformedEnvelope(t *testing.T) {
	v, _ := New(testKey)

	tests := []struct {
		name      string
		encrypted string
	}{
		{"not hex", "zzzz"},
		{"too short", hex.EncodeToString(make([]byte, 10))},
		{"just under minimum", hex.EncodeToString(make([]byte, encryptedPosition-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Decrypt(tt.encrypted); err != ErrInvalidEnvelope {
				t.Errorf("Expected ErrInvalidEnvelope, got %v", err)
			}
		})
	}
}

func TestVault_WrongKeyFailsDecrypt(t *testing.T) {
	v1, _ := New(testKey)
	v2, _ := New(strings.Repeat("ff", 32))

	encrypted, err := v1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := v2.Decrypt(encrypted); err != ErrDecryptFailed {
		t.Errorf("Expected ErrDecryptFailed with wrong key, got %v", err)
	}
}

func TestVault_FallbackKeyRoundTrip(t *testing.T) {
	v, err := New("")
	if err != nil {
		t.Fatalf("New with empty key failed: %v", err)
	}

	encrypted, err := v.Encrypt("dev-mode entry")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	decrypted, err := v.Decrypt(encrypted)
	if err != nil || decrypted != "dev-mode entry" {
		t.Errorf("Fallback key round trip failed: (%q, %v)", decrypted, err)
	}
}
