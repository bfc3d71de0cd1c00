// Package backup creates a zip snapshot of the vault before any mutation is
// persisted.
package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Vault archives every file under root into <root-parent>/<root-name>_backup.zip
// and returns the archive path. An existing archive at that location is
// overwritten.
func Vault(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("backup: resolve root: %w", err)
	}

	dest := filepath.Join(filepath.Dir(abs), filepath.Base(abs)+"_backup.zip")
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("backup: create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("backup: archive vault: %w", err)
	}

	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("backup: finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("backup: close archive: %w", err)
	}
	return dest, nil
}
