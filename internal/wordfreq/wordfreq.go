// Package wordfreq builds per-topic word-frequency tables from a CSV of
// hand-labelled articles. The JSON it writes, {topic: {word: count}}, is the
// input of the downstream TF-IDF scorer.
package wordfreq

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go-news-collector/pkg/utils"
)

const (
	TopicColumn       = "Annotation"
	DescriptionColumn = "Description"

	// UnlabelledTopic collects rows whose annotation cell is empty.
	UnlabelledTopic = "null/duplicate"
)

var ErrMissingColumn = errors.New("CSV header is missing a required column")

var punctuation = strings.NewReplacer(
	"&quot;", "",
	"‘", "'",
	"’", "'",
	"“", " ",
	"”", " ",
	"…", "...",
	"(", " ", ")", " ", "[", " ", "]", " ",
	",", " ", "-", " ", ".", " ", "?", " ", "!", " ",
	":", " ", ";", " ", "#", " ", "&", " ", "/", " ",
	`"`, " ", "—", " ",
)

// Normalize replaces punctuation with spaces, folds curly apostrophes to '
// and lowercases the text.
func Normalize(text string) string {
	return strings.ToLower(punctuation.Replace(text))
}

// WordCount is one word and how often it occurs in a topic.
type WordCount struct {
	Word  string
	Count int
}

// Topic holds a topic's words, most frequent first. Ties keep the order in
// which the words were first seen.
type Topic struct {
	Name  string
	Words []WordCount
}

// Table is every topic in alphabetical order.
type Table []Topic

// Stats reports what a counting pass read.
type Stats struct {
	Rows   int `json:"rows"`
	Topics int `json:"topics"`
	Words  int `json:"words"`
}

// Count reads the CSV from r and tallies the words of each row's
// description under the row's annotation. Words occurring fewer than
// minCount times in a topic are dropped.
func Count(r io.Reader, minCount int) (Table, *Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	topicIdx, descIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case TopicColumn:
			topicIdx = i
		case DescriptionColumn:
			descIdx = i
		}
	}
	if topicIdx < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, TopicColumn)
	}
	if descIdx < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, DescriptionColumn)
	}

	type tally struct {
		counts map[string]int
		order  []string
	}
	topics := make(map[string]*tally)
	stats := &Stats{}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		name := strings.TrimSpace(cell(record, topicIdx))
		if name == "" {
			name = UnlabelledTopic
		}
		t, ok := topics[name]
		if !ok {
			t = &tally{counts: make(map[string]int)}
			topics[name] = t
		}

		for _, word := range strings.Fields(Normalize(cell(record, descIdx))) {
			if _, seen := t.counts[word]; !seen {
				t.order = append(t.order, word)
			}
			t.counts[word]++
		}
	}

	table := make(Table, 0, len(topics))
	for name, t := range topics {
		words := make([]WordCount, 0, len(t.order))
		for _, w := range t.order {
			if c := t.counts[w]; c >= minCount {
				words = append(words, WordCount{Word: w, Count: c})
			}
		}
		slices.SortStableFunc(words, func(a, b WordCount) int { return b.Count - a.Count })
		table = append(table, Topic{Name: name, Words: words})
		stats.Words += len(words)
	}
	slices.SortFunc(table, func(a, b Topic) int { return strings.Compare(a.Name, b.Name) })
	stats.Topics = len(table)

	return table, stats, nil
}

func cell(record []string, idx int) string {
	if idx < len(record) {
		return record[idx]
	}
	return ""
}

// MarshalJSON writes the table as one object per topic, keeping topic and
// word order.
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, topic := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, topic.Name); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, w := range topic.Words {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, w.Word); err != nil {
				return nil, err
			}
			fmt.Fprintf(&buf, "%d", w.Count)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return err
	}
	// Encode terminates with a newline
	buf.Truncate(buf.Len() - 1)
	buf.WriteByte(':')
	return nil
}

// Compute counts the CSV at inPath and writes the table to outPath as
// indented JSON.
func Compute(inPath, outPath string, minCount int) (*Stats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	table, stats, err := Count(in, minCount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inPath, err)
	}

	raw, err := table.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode table: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return nil, fmt.Errorf("failed to indent table: %w", err)
	}
	out.WriteByte('\n')

	if err := utils.WriteFileAtomic(outPath, out.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	return stats, nil
}
