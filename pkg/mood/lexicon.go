package mood

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// ErrInvalidLexicon is returned when a lexicon table fails validation.
var ErrInvalidLexicon = errors.New("invalid lexicon")

// Entry maps one caption keyword to its associated moods, strongest first.
type Entry struct {
	Keyword string   `yaml:"keyword"`
	Moods   []string `yaml:"moods"`
}

// Fallback is a tier applied when no keyword matched the caption.
type Fallback struct {
	Words []string `yaml:"words"`
	Tags  []string `yaml:"tags"`
}

type table struct {
	Keywords  []Entry    `yaml:"keywords"`
	Fallbacks []Fallback `yaml:"fallbacks"`
	Default   []string   `yaml:"default"`
}

// Lexicon is an immutable keyword → moods table. It is safe for concurrent use.
type Lexicon struct {
	entries   []Entry
	fallbacks []Fallback
	def       []string
}

// Default returns the lexicon compiled into the binary.
func Default() (*Lexicon, error) {
	return Load(bytes.NewReader(defaultLexicon))
}

// LoadFile reads a lexicon from a YAML file on disk.
func LoadFile(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load parses and validates a YAML lexicon table.
func Load(r io.Reader) (*Lexicon, error) {
	var t table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	l := &Lexicon{
		entries:   make([]Entry, 0, len(t.Keywords)),
		fallbacks: make([]Fallback, 0, len(t.Fallbacks)),
		def:       lowerAll(t.Default),
	}
	for _, e := range t.Keywords {
		l.entries = append(l.entries, Entry{Keyword: strings.ToLower(strings.TrimSpace(e.Keyword)), Moods: lowerAll(e.Moods)})
	}
	for _, f := range t.Fallbacks {
		l.fallbacks = append(l.fallbacks, Fallback{Words: lowerAll(f.Words), Tags: lowerAll(f.Tags)})
	}
	return l, nil
}

func (t table) validate() error {
	if len(t.Keywords) == 0 {
		return fmt.Errorf("%w: no keywords", ErrInvalidLexicon)
	}
	seen := make(map[string]struct{}, len(t.Keywords))
	for i, e := range t.Keywords {
		kw := strings.ToLower(strings.TrimSpace(e.Keyword))
		if kw == "" {
			return fmt.Errorf("%w: keyword %d is empty", ErrInvalidLexicon, i)
		}
		if _, dup := seen[kw]; dup {
			return fmt.Errorf("%w: duplicate keyword %q", ErrInvalidLexicon, kw)
		}
		seen[kw] = struct{}{}
		if len(e.Moods) < MoodsPerKeyword {
			return fmt.Errorf("%w: keyword %q needs at least %d moods", ErrInvalidLexicon, kw, MoodsPerKeyword)
		}
		if hasBlank(e.Moods) {
			return fmt.Errorf("%w: keyword %q has an empty mood", ErrInvalidLexicon, kw)
		}
	}
	for i, f := range t.Fallbacks {
		if len(f.Words) == 0 || len(f.Tags) == 0 {
			return fmt.Errorf("%w: fallback %d needs words and tags", ErrInvalidLexicon, i)
		}
		// An empty word would match every caption.
		if hasBlank(f.Words) || hasBlank(f.Tags) {
			return fmt.Errorf("%w: fallback %d has an empty word or tag", ErrInvalidLexicon, i)
		}
	}
	if len(t.Default) == 0 || hasBlank(t.Default) {
		return fmt.Errorf("%w: default tags are empty", ErrInvalidLexicon)
	}
	return nil
}

// Entries returns a copy of the keyword table in match order.
func (l *Lexicon) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = Entry{Keyword: e.Keyword, Moods: append([]string(nil), e.Moods...)}
	}
	return out
}

// Len reports the number of keywords.
func (l *Lexicon) Len() int {
	return len(l.entries)
}

func hasBlank(in []string) bool {
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
