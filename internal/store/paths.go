package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/transitsim/internal/constants"
)

// LocalPath returns the path to the .transitsim directory for the given
// project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, constants.OutputDir)
}

// DatabasePath returns the run database path inside dir.
func DatabasePath(dir string) string {
	return filepath.Join(dir, constants.DatabaseFile)
}

// ExportPath returns the path of a per-run export file inside dir.
func ExportPath(dir, runID, suffix string) string {
	return filepath.Join(dir, constants.ExportDir, runID+suffix)
}

// EnsureDir creates dir and its exports subdirectory if they don't exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, constants.ExportDir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}
	return nil
}
