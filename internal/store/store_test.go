package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go-news-collector/internal/newsapi"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func storedTitles(t *testing.T, path string) []string {
	t.Helper()
	records, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	out := make([]string, 0, len(records))
	for _, raw := range records {
		var rec struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			t.Fatalf("Bad record %s: %v", raw, err)
		}
		out = append(out, rec.Title)
	}
	return out
}

func TestInitCreatesDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	s := New(root)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{"articles", "headlines"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s to exist", dir)
		}
	}
	if err := s.Init(); err != nil {
		t.Errorf("Init should be idempotent: %v", err)
	}
}

func TestMergeAppend(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("oppenheimer")
	if err := os.WriteFile(path, []byte(`[{"title":"A"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Merge(path, []newsapi.Article{{Title: "B"}}, true)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if got := storedTitles(t, path); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Expected [A B], got %v", got)
	}
	if result.Existing != 1 || result.Added != 1 || result.Total != 2 || !result.Appended {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestMergeAppendPreservesExistingRecords(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("dune")
	original := `[{"title":"A","custom_field":{"kept":true}}]`
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Merge(path, []newsapi.Article{{Title: "B"}}, true); err != nil {
		t.Fatal(err)
	}

	records, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var first map[string]any
	if err := json.Unmarshal(records[0], &first); err != nil {
		t.Fatal(err)
	}
	if _, ok := first["custom_field"]; !ok {
		t.Errorf("Unknown fields of existing records should survive, got %s", records[0])
	}
}

func TestMergeReplace(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("dune")
	if err := os.WriteFile(path, []byte(`[{"title":"A"},{"title":"Z"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Merge(path, []newsapi.Article{{Title: "B"}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := storedTitles(t, path); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("Expected [B], got %v", got)
	}
	if result.Appended || result.Existing != 0 {
		t.Errorf("Replace should not report existing records: %+v", result)
	}
}

func TestMergeAppendMissingOrEmptyStore(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing file", content: nil},
		{name: "empty file", content: new(string)},
		{name: "whitespace only", content: func() *string { s := " \n\t"; return &s }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			path := s.ArticlesPath("set")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}

			result, err := s.Merge(path, []newsapi.Article{{Title: "B"}}, true)
			if err != nil {
				t.Fatalf("Merge failed: %v", err)
			}
			if got := storedTitles(t, path); !reflect.DeepEqual(got, []string{"B"}) {
				t.Errorf("Expected [B], got %v", got)
			}
			if result.Appended {
				t.Error("Nothing existed so nothing was appended to")
			}
		})
	}
}

func TestMergeCorruptStoreIsLeftAlone(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("broken")
	corrupt := []byte(`{"title": "not an array"`)
	if err := os.WriteFile(path, corrupt, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Merge(path, []newsapi.Article{{Title: "B"}}, true)
	var corruptErr *CorruptStoreError
	if !errors.As(err, &corruptErr) {
		t.Fatalf("Expected CorruptStoreError, got %v", err)
	}
	if corruptErr.Path != path {
		t.Errorf("Expected path %s, got %s", path, corruptErr.Path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(corrupt) {
		t.Errorf("Corrupt store was modified: %s", data)
	}
}

func TestMergeCorruptStoreIgnoredOnReplace(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("broken")
	if err := os.WriteFile(path, []byte(`not json`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Merge(path, []newsapi.Article{{Title: "B"}}, false); err != nil {
		t.Fatalf("Replace should not read the old store: %v", err)
	}
	if got := storedTitles(t, path); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("Expected [B], got %v", got)
	}
}

func TestMergeFilteredFetch(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("dune")

	fetched := []newsapi.Article{{Title: newsapi.RemovedTitle}, {Title: "A"}, {Title: "B"}}
	if _, err := s.Merge(path, newsapi.FilterRemoved(fetched), false); err != nil {
		t.Fatal(err)
	}
	if got := storedTitles(t, path); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Expected [A B], got %v", got)
	}
}

func TestMergeEmptyBatchWritesEmptyArray(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("nothing")

	result, err := s.Merge(path, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 0 {
		t.Errorf("Expected empty store, got %+v", result)
	}

	records, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("Expected [], got %d records", len(records))
	}
	data, _ := os.ReadFile(path)
	if len(data) == 0 || data[0] != '[' {
		t.Errorf("Expected a JSON array on disk, got %q", data)
	}
}

func TestMergeRepeatedAppendGrowsStore(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("days")

	for _, title := range []string{"day3", "day2", "day1"} {
		if _, err := s.Merge(path, []newsapi.Article{{Title: title}}, true); err != nil {
			t.Fatal(err)
		}
	}
	if got := storedTitles(t, path); !reflect.DeepEqual(got, []string{"day3", "day2", "day1"}) {
		t.Errorf("Unexpected order: %v", got)
	}
}

func TestLoadArticles(t *testing.T) {
	s := newTestStore(t)
	path := s.ArticlesPath("dune")
	author := "Jane"
	in := []newsapi.Article{{Title: "A", Author: &author, URL: "https://example.com/a"}}
	if _, err := s.Merge(path, in, false); err != nil {
		t.Fatal(err)
	}

	out, err := LoadArticles(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Title != "A" || out[0].Author == nil || *out[0].Author != "Jane" {
		t.Errorf("Unexpected articles: %+v", out)
	}

	missing, err := LoadArticles(filepath.Join(t.TempDir(), "none.json"))
	if err != nil || len(missing) != 0 {
		t.Errorf("Missing store should load empty, got %v, %v", missing, err)
	}
}
