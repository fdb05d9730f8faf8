package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStaging(t *testing.T) *Staging {
	t.Helper()
	staging, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	return staging
}

func zipBytes(t *testing.T, entries map[string]string, dirs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, dir := range dirs {
		if _, err := w.Create(dir + "/"); err != nil {
			t.Fatalf("create dir entry: %v", err)
		}
	}
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry %q: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %q: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestValidateExtractsTree(t *testing.T) {
	staging := newTestStaging(t)
	validator := NewValidator(staging)

	data := zipBytes(t, map[string]string{
		"index.html":     "<html></html>",
		"assets/app.js":  "console.log(1)",
		"assets/app.css": "body{}",
	})
	archivePath, err := staging.Stage(data)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	dir, err := validator.Validate(archivePath)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	defer staging.Cleanup(dir)

	content, err := os.ReadFile(filepath.Join(dir, "assets", "app.js"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "console.log(1)" {
		t.Fatalf("extracted content = %q", content)
	}
}

func TestValidateRejectsCorruptArchive(t *testing.T) {
	staging := newTestStaging(t)
	validator := NewValidator(staging)

	archivePath, err := staging.Stage([]byte("this is not a zip"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := validator.Validate(archivePath); !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestValidateRejectsArchiveWithoutFiles(t *testing.T) {
	staging := newTestStaging(t)
	validator := NewValidator(staging)

	data := zipBytes(t, nil, "empty", "also/empty")
	archivePath, err := staging.Stage(data)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := validator.Validate(archivePath); !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("expected ErrEmptyArchive, got %v", err)
	}
}

func TestValidateRejectsZipSlip(t *testing.T) {
	staging := newTestStaging(t)
	validator := NewValidator(staging)

	data := zipBytes(t, map[string]string{"../escape.txt": "boom"})
	archivePath, err := staging.Stage(data)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := validator.Validate(archivePath); !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestCleanupRefusesPathsOutsideRoot(t *testing.T) {
	staging := newTestStaging(t)

	outside := t.TempDir()
	if err := staging.Cleanup(outside); err == nil {
		t.Fatal("expected error cleaning path outside root")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside dir should still exist: %v", err)
	}
}

func TestCleanupRemovesStagedArchive(t *testing.T) {
	staging := newTestStaging(t)

	archivePath, err := staging.Stage([]byte("payload"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := staging.Cleanup(archivePath); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(archivePath)); !os.IsNotExist(err) {
		t.Fatalf("stage dir should be gone, stat err = %v", err)
	}
}
