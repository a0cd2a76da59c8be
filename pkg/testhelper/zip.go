package testhelper

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

// BuildZip writes a ZIP archive with the given members into a test temp
// directory and returns its path.
func BuildZip(t *testing.T, members map[string][]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "package.zip")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip file: %v", err)
	}
	defer file.Close()

	writer := zip.NewWriter(file)
	for name, content := range members {
		member, err := writer.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip member %s: %v", name, err)
		}
		if _, err := member.Write(content); err != nil {
			t.Fatalf("failed to write zip member %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to finalize zip: %v", err)
	}
	return path
}
