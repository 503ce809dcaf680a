package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimeProvider defines an interface for getting the current time
// This allows for easy mocking in tests
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using the actual system time
type RealTimeProvider struct{}

// Now returns the current system time
func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// MockTimeProvider implements TimeProvider with a fixed time for testing
type MockTimeProvider struct {
	fixedTime time.Time
}

// NewMockTimeProvider creates a new mock time provider with the given fixed time
func NewMockTimeProvider(fixedTime time.Time) *MockTimeProvider {
	return &MockTimeProvider{fixedTime: fixedTime}
}

// Now returns the fixed time
func (m *MockTimeProvider) Now() time.Time {
	return m.fixedTime
}

// Today truncates the provider's current time to midnight in its own location.
func Today(tp TimeProvider) time.Time {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return StartOfDay(tp.Now())
}

// StartOfDay returns midnight of the day t falls on.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Subdirectories of the data root.
const (
	ArticlesDir  = "articles"
	HeadlinesDir = "headlines"
)

// StorePathGenerator derives store file paths from keyword set names
type StorePathGenerator struct {
	dataDir string
}

// NewStorePathGenerator creates a path generator rooted at dataDir
func NewStorePathGenerator(dataDir string) *StorePathGenerator {
	return &StorePathGenerator{dataDir: filepath.Clean(dataDir)}
}

// DataDir returns the data root.
func (g *StorePathGenerator) DataDir() string {
	return g.dataDir
}

// ArticlesPath returns <data-root>/articles/<name>_articles.json
func (g *StorePathGenerator) ArticlesPath(name string) string {
	return filepath.Join(g.dataDir, ArticlesDir, fmt.Sprintf("%s_articles.json", SanitizeName(name)))
}

// HeadlinesPath returns <data-root>/headlines/<name>_headlines.json
func (g *StorePathGenerator) HeadlinesPath(name string) string {
	return filepath.Join(g.dataDir, HeadlinesDir, fmt.Sprintf("%s_headlines.json", SanitizeName(name)))
}

// Dirs lists the directories that must exist before any store is touched.
func (g *StorePathGenerator) Dirs() []string {
	return []string{
		g.dataDir,
		filepath.Join(g.dataDir, ArticlesDir),
		filepath.Join(g.dataDir, HeadlinesDir),
	}
}

// SanitizeName keeps keyword set names from escaping the store directory.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(name)
}

// ValidateFilePath checks if a file path is valid and safe
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	// Check for path traversal attempts
	cleaned := filepath.Clean(filePath)
	if cleaned != filePath {
		return fmt.Errorf("file path contains invalid characters or path traversal attempts")
	}

	return nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dirPath string) error {
	if err := ValidateFilePath(dirPath); err != nil {
		return fmt.Errorf("invalid directory path: %w", err)
	}

	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dirPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory '%s': %w", dirPath, err)
			}
			return nil
		}
		return fmt.Errorf("failed to check directory '%s': %w", dirPath, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path '%s' exists but is not a directory", dirPath)
	}

	return nil
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	if err := ValidateFilePath(filePath); err != nil {
		return false
	}

	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}

// WriteFileAtomic writes data to a temporary file next to filePath and
// renames it over filePath, so readers never observe a partial write.
func WriteFileAtomic(filePath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in '%s': %w", dir, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file '%s': %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file '%s': %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file '%s': %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file '%s': %w", tmpName, err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename '%s' to '%s': %w", tmpName, filePath, err)
	}

	return nil
}
