package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBootstrapDevKeyCreatesFile(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "test-keys.yaml")

	result, err := BootstrapDevKey(keysPath, "mail-hook")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if !result.Created {
		t.Fatalf("expected Created=true")
	}
	if result.Key == "" {
		t.Fatalf("expected non-empty key")
	}
	if result.Client != "mail-hook" {
		t.Fatalf("expected client=mail-hook, got %s", result.Client)
	}

	if _, err := os.Stat(keysPath); err != nil {
		t.Fatalf("keys file not created: %v", err)
	}

	ring, err := LoadKeyring(keysPath)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	client, ok := ring.ClientForKey(result.Key)
	if !ok || client != "mail-hook" {
		t.Fatalf("expected key to map to mail-hook, got %s ok=%v", client, ok)
	}
}

func TestBootstrapDevKeySkipsExisting(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "test-keys.yaml")

	if err := os.WriteFile(keysPath, []byte("existing"), 0600); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	result, err := BootstrapDevKey(keysPath, "mail-hook")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if result.Created {
		t.Fatalf("expected Created=false for existing file")
	}

	data, _ := os.ReadFile(keysPath)
	if string(data) != "existing" {
		t.Fatalf("file was modified")
	}
}

func TestBootstrapDevKeyDefaultClient(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "test-keys.yaml")

	result, err := BootstrapDevKey(keysPath, "")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if result.Client != "dev" {
		t.Fatalf("expected default client=dev, got %s", result.Client)
	}
}

func TestLoadKeyringRejectsSharedKeys(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "keys.yaml")
	raw := "clients:\n  a:\n    keys: [\"dup\"]\n  b:\n    keys: [\"dup\"]\n"
	if err := os.WriteFile(keysPath, []byte(raw), 0600); err != nil {
		t.Fatalf("write keys: %v", err)
	}
	if _, err := LoadKeyring(keysPath); err == nil {
		t.Fatal("expected error for key reused across clients")
	}
}
