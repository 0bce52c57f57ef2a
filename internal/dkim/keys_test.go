package dkim

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if key.N.BitLen() < 2048 {
		t.Errorf("key size = %d bits, want >= 2048", key.N.BitLen())
	}
}

func TestSaveAndLoadPrivateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	keyPath := filepath.Join(t.TempDir(), "subdir", "test.key")
	if err := SavePrivateKey(keyPath, key); err != nil {
		t.Fatalf("SavePrivateKey failed: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file permissions = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadPrivateKey(keyPath)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if loaded.N.Cmp(key.N) != 0 {
		t.Error("loaded key doesn't match original")
	}
}

func TestLoadPrivateKeyErrors(t *testing.T) {
	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadPrivateKey("/nonexistent/key.pem")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("invalid PEM", func(t *testing.T) {
		badFile := filepath.Join(t.TempDir(), "bad.pem")
		if err := os.WriteFile(badFile, []byte("not a pem"), 0600); err != nil {
			t.Fatal(err)
		}

		_, err := LoadPrivateKey(badFile)
		if err == nil {
			t.Error("expected error for invalid PEM")
		}
	})
}
