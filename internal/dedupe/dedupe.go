// Package dedupe turns article stores into CSV and removes rows that repeat
// an earlier title.
package dedupe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go-news-collector/internal/newsapi"
	"go-news-collector/pkg/utils"
)

// TitleColumn is the header that identifies duplicates.
const TitleColumn = "title"

var ErrNoTitleColumn = errors.New("CSV header has no title column")

// ExportColumns are the flattened article fields written by ExportCSV.
var ExportColumns = []string{
	"source.id", "source.name", "author", "title", "description",
	"url", "urlToImage", "publishedAt", "content",
}

// Stats reports what a de-duplication pass did.
type Stats struct {
	Rows    int `json:"rows"`
	Kept    int `json:"kept"`
	Removed int `json:"removed"`
}

// RemoveDuplicateTitles copies the CSV at inPath to outPath keeping only
// the first row for every distinct title. Row order is preserved.
func RemoveDuplicateTitles(inPath, outPath string) (*Stats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	var sb strings.Builder
	stats, err := Dedupe(in, &sb)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inPath, err)
	}

	if err := utils.WriteFileAtomic(outPath, []byte(sb.String()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	return stats, nil
}

// Dedupe streams CSV from r to w, dropping rows whose title was already seen.
func Dedupe(r io.Reader, w io.Writer) (*Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrNoTitleColumn
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	titleIdx := -1
	for i, col := range header {
		if strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) == TitleColumn {
			titleIdx = i
			break
		}
	}
	if titleIdx < 0 {
		return nil, ErrNoTitleColumn
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	stats := &Stats{}
	seen := make(map[string]bool)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		title := ""
		if titleIdx < len(record) {
			title = record[titleIdx]
		}
		if seen[title] {
			stats.Removed++
			continue
		}
		seen[title] = true

		if err := writer.Write(record); err != nil {
			return nil, err
		}
		stats.Kept++
	}

	writer.Flush()
	return stats, writer.Error()
}

// ExportCSV writes articles as CSV with ExportColumns as the header.
// Absent optional fields become empty cells.
func ExportCSV(articles []newsapi.Article, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ExportColumns); err != nil {
		return err
	}

	for _, a := range articles {
		published := ""
		if !a.PublishedAt.IsZero() {
			published = a.PublishedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			deref(a.Source.ID), a.Source.Name, deref(a.Author), a.Title, deref(a.Description),
			a.URL, deref(a.URLToImage), published, deref(a.Content),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
