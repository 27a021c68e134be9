package filetree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideRoot = errors.New("path escapes project root")
	ErrTooLarge    = errors.New("file exceeds size limit")
)

// Resolve joins a slash separated relative path onto root, rejecting any
// path that would land outside it. Symlinks are followed before the check,
// so the returned path is the real location of an existing file.
func Resolve(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(rel)))
	if clean == "." || filepath.IsAbs(clean) || escapes(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	target, err := filepath.EvalSymlinks(filepath.Join(realRoot, clean))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	inside, err := filepath.Rel(realRoot, target)
	if err != nil || escapes(inside) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return target, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ReadContent loads one file's text. maxBytes <= 0 disables the size check.
func ReadContent(root, rel string, maxBytes int64) (string, error) {
	full, err := Resolve(root, rel)
	if err != nil {
		return "", err
	}
	if maxBytes > 0 {
		info, err := os.Stat(full)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.Size() > maxBytes {
			return "", fmt.Errorf("%w: %s (%d > %d bytes)", ErrTooLarge, rel, info.Size(), maxBytes)
		}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}
