// Package profile maintains the persistent user profile: a bounded set of
// categorized facts extracted from completed exchanges and merged into a
// single profile document (fenced JSON block plus a mirrored bullet list).
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// Categories is the fixed closed set a fact may belong to.
var Categories = []string{
	"identity",
	"occupation",
	"preferences",
	"interests",
	"skills",
	"goals",
	"relationships",
	"habits",
	"constraints",
	"communication_style",
}

// MinConfidence is the acceptance threshold for extracted facts.
const MinConfidence = 0.7

// maxFacts bounds the stored profile.
const maxFacts = 100

// Fact is one profile entry.
type Fact struct {
	Category   string   `json:"category"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Valid checks the fact against the closed category set and the confidence
// range.
func (f Fact) Valid() bool {
	if strings.TrimSpace(f.Text) == "" {
		return false
	}
	if !slices.Contains(Categories, f.Category) {
		return false
	}
	if f.Confidence != nil && (*f.Confidence < 0 || *f.Confidence > 1) {
		return false
	}
	return true
}

// Store reads and writes the profile document. Writes are serialized under a
// coarse mutex; last writer wins within the critical section.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store over the profile document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load parses the profile document. A missing file is an empty profile.
func (s *Store) Load() ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

var jsonBlockPattern = regexp.MustCompile("(?s)```json\n(.*?)\n```")

func (s *Store) loadLocked() ([]Fact, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", s.path, err)
	}

	m := jsonBlockPattern.FindSubmatch(data)
	if m == nil {
		return nil, nil
	}

	var facts []Fact
	if err := json.Unmarshal(m[1], &facts); err != nil {
		return nil, fmt.Errorf("parsing profile JSON block: %w", err)
	}
	return facts, nil
}

// Save replaces the profile document with the given facts: a fenced JSON
// block followed by the plain bullet mirror.
func (s *Store) Save(facts []Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(facts)
}

func (s *Store) saveLocked(facts []Fact) error {
	if len(facts) > maxFacts {
		facts = facts[len(facts)-maxFacts:]
	}

	raw, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("# User Profile\n\n```json\n")
	b.Write(raw)
	b.WriteString("\n```\n\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Text)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating profile folder: %w", err)
	}
	if err := atomic.WriteFile(s.path, &b); err != nil {
		return fmt.Errorf("writing profile %q: %w", s.path, err)
	}
	return nil
}

// Update runs fn over the current facts and persists its result, all inside
// the store's critical section.
func (s *Store) Update(fn func(current []Fact) ([]Fact, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.saveLocked(next)
}

// ByCategory groups fact texts by category, keeping the facts' order within
// each category. The returned map has no category order of its own.
func ByCategory(facts []Fact) map[string][]string {
	grouped := make(map[string][]string)
	for _, f := range facts {
		grouped[f.Category] = append(grouped[f.Category], f.Text)
	}
	return grouped
}

// ParseBullets parses "- [category] text" lines back into facts, dropping
// anything invalid. The merge prompt responds in this shape.
func ParseBullets(out string) []Fact {
	var facts []Fact
	for line := range strings.SplitSeq(out, "\n") {
		line = strings.TrimSpace(line)
		line, ok := strings.CutPrefix(line, "- ")
		if !ok {
			continue
		}
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		fact := Fact{
			Category: strings.TrimSpace(line[1:end]),
			Text:     strings.TrimSpace(line[end+1:]),
		}
		if fact.Valid() {
			facts = append(facts, fact)
		}
	}
	return facts
}

// ParseExtraction parses the JSON array produced by the extraction prompt
// and returns only the facts passing validation: non-empty text, category in
// the closed set, and confidence, when present, within [0,1] and at or above
// the threshold.
func ParseExtraction(out string) ([]Fact, error) {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	out = strings.TrimSpace(out)

	var raw []Fact
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parsing extraction output: %w", err)
	}

	var accepted []Fact
	for _, f := range raw {
		if !f.Valid() {
			continue
		}
		if f.Confidence != nil && *f.Confidence < MinConfidence {
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, nil
}
