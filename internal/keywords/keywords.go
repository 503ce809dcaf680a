// Package keywords loads the ordered keyword-set file that drives a run.
//
// The file is a sequence of single-entry mappings, in JSON
//
//	[{"dune": ["dune", "Denis Villeneuve"]}, {"oppenheimer": ["oppenheimer"]}]
//
// or the equivalent YAML. Order is preserved; it is the processing order.
package keywords

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidFile = errors.New("invalid keyword-set file")

// KeywordSet is a named group of keywords combined with OR in one query.
type KeywordSet struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// LoadFile reads keyword sets from path. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadFile(path string) ([]KeywordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword-set file: %w", err)
	}

	var sets []KeywordSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		sets, err = ParseYAML(data)
	default:
		sets, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sets, nil
}

// ParseJSON decodes a JSON array of single-key objects.
func ParseJSON(data []byte) ([]KeywordSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	var sets []KeywordSet
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		entries := 0
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
			}
			name, _ := tok.(string)

			var kws []string
			if err := dec.Decode(&kws); err != nil {
				return nil, fmt.Errorf("%w: keyword set '%s': %v", ErrInvalidFile, name, err)
			}
			sets = append(sets, KeywordSet{Name: name, Keywords: kws})
			entries++
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		if entries != 1 {
			return nil, fmt.Errorf("%w: entry %d must have exactly one name, has %d", ErrInvalidFile, len(sets), entries)
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after array", ErrInvalidFile)
	}

	if err := Validate(sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected '%c', got %v", ErrInvalidFile, want, tok)
	}
	return nil
}

// ParseYAML decodes a YAML sequence of single-key mappings.
func ParseYAML(data []byte) ([]KeywordSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidFile)
	}

	seq := root.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: line %d: expected a sequence", ErrInvalidFile, seq.Line)
	}

	sets := make([]KeywordSet, 0, len(seq.Content))
	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected a mapping with exactly one name", ErrInvalidFile, item.Line)
		}
		var kws []string
		if err := item.Content[1].Decode(&kws); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidFile, item.Line, err)
		}
		sets = append(sets, KeywordSet{Name: item.Content[0].Value, Keywords: kws})
	}

	if err := Validate(sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// Validate checks that the file has at least one set and that every set has
// a unique non-empty name. A set without keywords is accepted here and fails
// on its own when its request is built.
func Validate(sets []KeywordSet) error {
	if len(sets) == 0 {
		return fmt.Errorf("%w: no keyword sets", ErrInvalidFile)
	}

	seen := make(map[string]bool, len(sets))
	for i, set := range sets {
		name := strings.TrimSpace(set.Name)
		if name == "" {
			return fmt.Errorf("%w: keyword set %d has no name", ErrInvalidFile, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate keyword set '%s'", ErrInvalidFile, name)
		}
		seen[name] = true
	}
	return nil
}

// Select returns the sets whose names appear in names, in file order.
// Unknown names are an error. An empty names slice returns all sets.
func Select(sets []KeywordSet, names []string) ([]KeywordSet, error) {
	if len(names) == 0 {
		return sets, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}

	var out []KeywordSet
	for _, set := range sets {
		if want[set.Name] {
			out = append(out, set)
			delete(want, set.Name)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for n := range want {
			missing = append(missing, n)
		}
		slices.Sort(missing)
		return nil, fmt.Errorf("unknown keyword sets: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
