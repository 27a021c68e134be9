package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir wraps t.TempDir for consistency and future shared setup.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteTree creates files under a fresh temp dir. Keys are slash separated
// relative paths; parent directories are created as needed.
func WriteTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := TempDir(t)
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}
