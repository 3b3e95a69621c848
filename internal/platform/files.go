package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// Partial-download leftovers removed together with an artifact
var (
	PartialExtensions = []string{".part", ".ytdl"}
)

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// GetHomeDownloadsDir returns the standard Downloads directory for the user
func GetHomeDownloadsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, "Downloads"), nil
}

// RemoveArtifact removes a job's output file along with any partial
// download leftovers next to it. Missing files are not an error: cleanup
// runs on every non-kept finalization, including jobs that never wrote
// anything.
func RemoveArtifact(artifactPath string) error {
	if artifactPath == "" {
		return nil
	}
	if strings.HasPrefix(artifactPath, "http") {
		return fmt.Errorf("artifact path appears to be a URL: %s", artifactPath)
	}

	if err := os.Remove(artifactPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	for _, ext := range PartialExtensions {
		if err := os.Remove(artifactPath + ext); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove partial file: %w", err)
		}
	}
	return nil
}
