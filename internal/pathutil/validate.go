// Package pathutil validates file paths supplied by MCP clients before
// transitsim reads them.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside every allowed
// directory.
var ErrOutsideRoot = errors.New("outside allowed directories")

// RedactPath reduces a full path to .../<parent>/<basename> for error
// messages. "/home/user/.transitsim/config.yaml" becomes
// ".../.transitsim/config.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath checks that path resolves inside one of allowedDirs. Symlinks
// on the existing part of the path are resolved first, so a link inside an
// allowed directory cannot point out of it. The file itself need not exist.
func ValidatePath(path string, allowedDirs []string) error {
	switch {
	case path == "":
		return fmt.Errorf("path validation failed: path is empty")
	case len(allowedDirs) == 0:
		return fmt.Errorf("path validation failed: no allowed directories configured")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("path validation failed: path contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve absolute path: %w", err)
	}
	resolvedDir, err := resolveExisting(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve parent directory: %w", err)
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(abs))

	for _, dir := range allowedDirs {
		allowedAbs, err := filepath.Abs(filepath.Clean(dir))
		if err != nil {
			continue
		}
		allowed, err := resolveExisting(allowedAbs)
		if err != nil {
			continue
		}
		if within(resolved, allowed) {
			return nil
		}
	}
	return fmt.Errorf("path validation failed: %q is %w", RedactPath(abs), ErrOutsideRoot)
}

// resolveExisting resolves symlinks on the deepest existing ancestor of dir
// and re-appends the missing tail.
func resolveExisting(dir string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// within reports whether path is base or below it. "/tmp/foo" is not
// within "/tmp/fo".
func within(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(os.PathSeparator))
}

// AllowedDataDirs returns the directories data snapshots may be read from
// when the path comes from an MCP client.
func AllowedDataDirs(projectRoot string) []string {
	return []string{projectRoot}
}
