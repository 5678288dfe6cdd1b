package workspaceconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFindsConfigAtRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yml := "repo: demo\ntabs:\n  - name: server\n  - name: client\n"
	if err := os.WriteFile(filepath.Join(root, "tab.yml"), []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, dir, ok, err := Discover(sub)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !ok {
		t.Fatal("expected config to be found")
	}
	if dir != root {
		t.Fatalf("expected dir %q, got %q", root, dir)
	}
	if cfg.Repo != "demo" || len(cfg.Tabs) != 2 {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestDiscoverFallsBackToDotfile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".tab.yml"), []byte("repo: dotted\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, ok, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !ok || cfg.Repo != "dotted" {
		t.Fatalf("expected dotfile config to be found, got %#v ok=%v", cfg, ok)
	}
}

func TestDiscoverReturnsNotOkWhenMissing(t *testing.T) {
	root := t.TempDir()
	_, _, ok, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if ok {
		t.Fatal("expected no config to be found")
	}
}
