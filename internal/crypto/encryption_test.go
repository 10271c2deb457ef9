package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func testEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	encryptor, err := NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}

func TestNewEncryptor(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		encryptor, err := NewEncryptor(base64.StdEncoding.EncodeToString(make([]byte, 32)))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if encryptor == nil {
			t.Fatal("Expected encryptor, got nil")
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := NewEncryptor("not-valid-base64!!!"); err == nil {
			t.Fatal("Expected error for invalid base64, got nil")
		}
	})

	t.Run("wrong key length", func(t *testing.T) {
		if _, err := NewEncryptor(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
			t.Fatal("Expected error for wrong key length, got nil")
		}
	})
}

func TestSealOpen(t *testing.T) {
	encryptor := testEncryptor(t)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"simple password", "mypassword123"},
		{"symbols", "P@ssw0rd!#$%^&*()"},
		{"empty string", ""},
		{"unicode", "пароль密码🔐"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := encryptor.Seal("owner-1", tc.plaintext)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			opened, err := encryptor.Open("owner-1", sealed)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if opened != tc.plaintext {
				t.Errorf("Expected %q, got %q", tc.plaintext, opened)
			}
		})
	}
}

func TestSeal_UsesFreshNonce(t *testing.T) {
	encryptor := testEncryptor(t)

	a, _ := encryptor.Seal("owner-1", "same")
	b, _ := encryptor.Seal("owner-1", "same")
	if bytes.Equal(a, b) {
		t.Error("Expected different ciphertexts for the same plaintext")
	}
}

func TestOpen_Failures(t *testing.T) {
	encryptor := testEncryptor(t)
	sealed, err := encryptor.Seal("owner-1", "secret")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	t.Run("other owner cannot open", func(t *testing.T) {
		if _, err := encryptor.Open("owner-2", sealed); err == nil {
			t.Error("Expected error when opening with another owner id")
		}
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0xff
		if _, err := encryptor.Open("owner-1", tampered); err == nil {
			t.Error("Expected error for tampered ciphertext")
		}
	})

	t.Run("too short", func(t *testing.T) {
		_, err := encryptor.Open("owner-1", []byte{1, 2, 3})
		if !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("Expected ErrCiphertextTooShort, got %v", err)
		}
	})
}
