package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/modsagraphy/universa/identity"
)

func TestGenerateProducesUsableIdentity(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id.NodeID() == "" {
		t.Fatal("expected a non-empty node id")
	}
	sig := id.Sign([]byte("hello"))
	if sig == "" {
		t.Fatal("expected a non-empty signature")
	}
}

func TestSaveAndLoadKeyRoundTrips(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "node.key")

	if err := identity.SaveKey(path, "correct horse", id.PrivKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	loaded, err := identity.LoadKey(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	reloaded := identity.New(loaded)
	if reloaded.NodeID() != id.NodeID() {
		t.Fatalf("expected node id %s, got %s", id.NodeID(), reloaded.NodeID())
	}
}

func TestLoadKeyFailsWithWrongPassword(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "node.key")
	if err := identity.SaveKey(path, "right", id.PrivKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := identity.LoadKey(path, "wrong"); err == nil {
		t.Fatal("expected an error loading with the wrong password")
	}
}

func TestLoadKeyFailsOnMissingFile(t *testing.T) {
	_, err := identity.LoadKey(filepath.Join(t.TempDir(), "missing.key"), "pw")
	if err == nil || os.IsExist(err) {
		t.Fatal("expected an error for a missing keystore file")
	}
}
