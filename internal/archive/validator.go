package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrExtraction indicates the uploaded bytes are not a valid zip archive.
	ErrExtraction = errors.New("archive: extraction failed")

	// ErrEmptyArchive indicates the archive contains no regular files.
	ErrEmptyArchive = errors.New("archive: no files found")
)

// Validator extracts an uploaded archive and asserts it contains at least one
// regular file. It is intentionally permissive beyond that: there is no
// required entry file such as index.html.
type Validator struct {
	staging *Staging
}

// NewValidator returns a validator drawing scratch space from staging.
func NewValidator(staging *Staging) *Validator {
	return &Validator{staging: staging}
}

// Validate extracts archivePath into a fresh scratch directory and returns
// the extracted root. The extracted tree is left on disk for the caller to
// upload from; cleanup is the caller's responsibility.
func (v *Validator) Validate(archivePath string) (string, error) {
	dir, err := v.staging.ScratchDir()
	if err != nil {
		return "", err
	}
	if err := extractZip(archivePath, dir); err != nil {
		_ = v.staging.Cleanup(dir)
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	empty, err := treeIsEmpty(dir)
	if err != nil {
		_ = v.staging.Cleanup(dir)
		return "", err
	}
	if empty {
		_ = v.staging.Cleanup(dir)
		return "", ErrEmptyArchive
	}
	return dir, nil
}

func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// safeJoin rejects entries that would escape the extraction root (zip slip).
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Join(root, filepath.FromSlash(name))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}
	return cleaned, nil
}

// treeIsEmpty reports whether the tree holds zero regular files. Directories
// alone do not make a deployable bundle.
func treeIsEmpty(root string) (bool, error) {
	found := errors.New("found")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			return found
		}
		return nil
	})
	if errors.Is(err, found) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("scan extracted tree: %w", err)
	}
	return true, nil
}
