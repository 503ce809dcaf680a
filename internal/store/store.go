// Package store persists one JSON array of articles per keyword set and
// merges new fetches into it.
//
// Existing records are kept as raw JSON so that fields written by older
// runs survive a merge byte-for-byte. Writes go through a temporary file
// and a rename, so a crash never leaves a truncated store behind.
//
// The store itself does not lock: two processes merging into the same
// store at the same time can lose one side's update unless the caller
// holds a storelock lease around Merge.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go-news-collector/internal/newsapi"
	"go-news-collector/pkg/utils"
)

// CorruptStoreError is returned when an existing store is not a JSON array.
// The file is left untouched.
type CorruptStoreError struct {
	Path  string `json:"path"`
	Cause error  `json:"cause"`
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("store '%s' is corrupt: %v", e.Path, e.Cause)
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Cause
}

// FileOperationError represents an error during file operations
type FileOperationError struct {
	Operation string `json:"operation"`
	FilePath  string `json:"file_path"`
	Cause     error  `json:"cause"`
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("file operation '%s' failed for '%s': %v", e.Operation, e.FilePath, e.Cause)
}

func (e *FileOperationError) Unwrap() error {
	return e.Cause
}

// MergeResult describes what a merge wrote.
type MergeResult struct {
	Path     string `json:"path"`
	Existing int    `json:"existing"`
	Added    int    `json:"added"`
	Total    int    `json:"total"`
	Appended bool   `json:"appended"`
}

// Store reads and writes article stores under a data root.
type Store struct {
	paths *utils.StorePathGenerator
}

// New creates a store rooted at dataDir. Call Init before the first merge.
func New(dataDir string) *Store {
	return &Store{paths: utils.NewStorePathGenerator(dataDir)}
}

// Init creates the data root and its subdirectories.
func (s *Store) Init() error {
	for _, dir := range s.paths.Dirs() {
		if err := utils.EnsureDirectoryExists(dir); err != nil {
			return &FileOperationError{Operation: "create directory", FilePath: dir, Cause: err}
		}
	}
	return nil
}

// ArticlesPath returns the store path for an everything-endpoint keyword set.
func (s *Store) ArticlesPath(name string) string {
	return s.paths.ArticlesPath(name)
}

// HeadlinesPath returns the store path for a top-headlines key.
func (s *Store) HeadlinesPath(name string) string {
	return s.paths.HeadlinesPath(name)
}

// Merge writes articles to path. With appendMode the articles go after
// whatever the store already holds; no de-duplication or sorting happens.
// A missing or empty store is treated as if appendMode were false.
func (s *Store) Merge(path string, articles []newsapi.Article, appendMode bool) (*MergeResult, error) {
	var existing []json.RawMessage
	if appendMode {
		records, err := Load(path)
		if err != nil {
			return nil, err
		}
		existing = records
	}

	merged := make([]json.RawMessage, 0, len(existing)+len(articles))
	merged = append(merged, existing...)
	for i, a := range articles {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, &FileOperationError{Operation: fmt.Sprintf("marshal article %d", i), FilePath: path, Cause: err}
		}
		merged = append(merged, raw)
	}

	if err := write(path, merged); err != nil {
		return nil, err
	}

	return &MergeResult{
		Path:     path,
		Existing: len(existing),
		Added:    len(articles),
		Total:    len(merged),
		Appended: appendMode && len(existing) > 0,
	}, nil
}

// Load returns the raw records of the store at path. A missing or empty
// (whitespace only) file yields no records and no error.
func Load(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &FileOperationError{Operation: "read", FilePath: path, Cause: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &CorruptStoreError{Path: path, Cause: err}
	}
	return records, nil
}

// LoadArticles decodes the store at path into articles.
func LoadArticles(path string) ([]newsapi.Article, error) {
	records, err := Load(path)
	if err != nil {
		return nil, err
	}
	articles := make([]newsapi.Article, 0, len(records))
	for i, raw := range records {
		var a newsapi.Article
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, &CorruptStoreError{Path: path, Cause: fmt.Errorf("record %d: %w", i, err)}
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func write(path string, records []json.RawMessage) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return &FileOperationError{Operation: "marshal JSON", FilePath: path, Cause: err}
	}

	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return &FileOperationError{Operation: "write file", FilePath: path, Cause: err}
	}
	return nil
}
