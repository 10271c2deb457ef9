package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/vdavid/vmail/mailcore/internal/crypto"
)

// TestEncryptionKey is the deterministic base64 key used across test packages.
var TestEncryptionKey = func() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}()

// GetTestEncryptor creates an encryptor with the shared test key.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
