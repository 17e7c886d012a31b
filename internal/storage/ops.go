package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
)

func Sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune("<>:\"/\\|?*", r) || r < 0x20 {
			return -1
		}
		return r
	}, s)

	mapped = strings.TrimRight(mapped, ". ")
	if mapped == "" || mapped == ".." {
		return "_"
	}
	return mapped
}

// LocalPath maps a song's server relative path into cacheDir. Each segment
// is sanitized, so the result never escapes cacheDir.
func LocalPath(cacheDir, songPath string) string {
	segments := domain.SplitPath(songPath)
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, cacheDir)
	for _, s := range segments {
		parts = append(parts, Sanitize(s))
	}
	return filepath.Join(parts...)
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

// EnsureParent creates the directory that will hold path.
func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// WriteFile writes data to path, creating missing parent folders.
func WriteFile(path string, data []byte) error {
	if err := EnsureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, constants.FilePermissions)
}

// RemoveFile deletes path. A missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FileSize returns 0 for a missing file.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// FreeSpace reports the bytes available to an unprivileged user on the
// filesystem holding path.
func FreeSpace(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil //nolint:gosec,unconvert // field widths vary per platform
}

// DeleteFolderIfEmpty removes dirPath when it has no entries and reports
// whether it is gone. A missing folder counts as gone.
func DeleteFolderIfEmpty(dirPath string) (bool, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dirPath); err != nil {
		return false, err
	}
	return true, nil
}

// PruneEmptyParents removes the now empty directories between path and root,
// stopping at the first one that still has entries. root itself is kept.
func PruneEmptyParents(root, path string) error {
	root = filepath.Clean(root)
	dir := filepath.Dir(filepath.Clean(path))
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		gone, err := DeleteFolderIfEmpty(dir)
		if err != nil || !gone {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
