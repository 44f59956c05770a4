package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactDir stores per-job binary artifacts (narration audio) under a
// root directory, one subdirectory per job.
type ArtifactDir struct {
	root string
}

// NewArtifactDir returns an ArtifactDir rooted at root. The directory is
// created on first write.
func NewArtifactDir(root string) *ArtifactDir {
	return &ArtifactDir{root: root}
}

// Root returns the root directory.
func (a *ArtifactDir) Root() string {
	return a.root
}

// Write stores data as name under the job's directory and returns the
// file path. The file appears atomically.
func (a *ArtifactDir) Write(jobID, name string, data []byte) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("artifacts: invalid path %q/%q", jobID, name)
	}
	dir := filepath.Join(a.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("artifacts: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("artifacts: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifacts: close %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifacts: rename %s: %w", name, err)
	}
	return path, nil
}
