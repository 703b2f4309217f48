package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateES256KeyPair(t *testing.T) {
	privateKey, err := GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	if privateKey.Curve != elliptic.P256() {
		t.Error("expected P-256 curve")
	}
	if !privateKey.Curve.IsOnCurve(privateKey.X, privateKey.Y) {
		t.Error("public key should be on curve")
	}
}

func TestSaveLoadPrivateKeyPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	original, err := GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if err := SavePrivateKeyPEM(original, path); err != nil {
		t.Fatalf("failed to save key: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}

	loaded, err := LoadPrivateKeyPEM(path)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if !loaded.Equal(original) {
		t.Error("loaded key differs from saved key")
	}
}

func TestLoadPKCS8(t *testing.T) {
	key, _ := GenerateES256KeyPair()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pkcs8.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := LoadPrivateKeyPEM(path)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if !loaded.Equal(key) {
		t.Error("loaded key differs")
	}
}

func TestLoadPrivateKeyPEMErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		if _, err := LoadPrivateKeyPEM(filepath.Join(dir, "nope.pem")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("NotPEM", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.pem")
		_ = os.WriteFile(path, []byte("not a key"), 0o600)
		if _, err := LoadPrivateKeyPEM(path); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("WrongCurve", func(t *testing.T) {
		key, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		der, _ := x509.MarshalECPrivateKey(key)
		path := filepath.Join(dir, "p384.pem")
		_ = os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600)
		if _, err := LoadPrivateKeyPEM(path); err == nil {
			t.Error("expected error for P-384 key")
		}
	})
}

func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	first, created, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !created {
		t.Error("expected key to be created")
	}

	second, created, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if created {
		t.Error("expected existing key to be loaded")
	}
	if !first.Equal(second) {
		t.Error("expected the persisted key on reload")
	}

	ephemeral, created, err := LoadOrGenerateKey("")
	if err != nil || !created || ephemeral == nil {
		t.Errorf("ephemeral key: created=%v err=%v", created, err)
	}
}
