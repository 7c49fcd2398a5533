// Package catalogfile serves catalog lookups from a local YAML file.
package catalogfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/OpsPilot/internal/domain/catalog"
	catalogport "github.com/Strob0t/OpsPilot/internal/port/catalog"
)

// Catalog ranks the automations of a YAML file by keyword overlap with the
// request text.
type Catalog struct {
	entries []catalog.Candidate
}

var _ catalogport.Lookup = (*Catalog)(nil)

type file struct {
	Automations []catalog.Candidate `yaml:"automations"`
}

// Load reads a catalog file of the form:
//
//	automations:
//	  - automation_id: disk-check
//	    name: Disk check
//	    os: [ubuntu, debian]
//	    keywords: [disk, space, df]
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Automations))
	for i, a := range f.Automations {
		if a.AutomationID == "" {
			return nil, fmt.Errorf("catalog entry %d: automation_id is required", i)
		}
		if seen[a.AutomationID] {
			return nil, fmt.Errorf("catalog entry %d: duplicate automation_id %q", i, a.AutomationID)
		}
		seen[a.AutomationID] = true
	}
	return &Catalog{entries: f.Automations}, nil
}

// Len returns the number of automations in the catalog.
func (c *Catalog) Len() int { return len(c.entries) }

// Lookup scores each automation as the fraction of request words found in
// its keywords or name. Automations restricted to other operating systems
// are skipped, zero scores are dropped and ties keep file order.
func (c *Catalog) Lookup(_ context.Context, q catalog.Query) ([]catalog.Candidate, error) {
	words := tokenize(q.Text)
	if len(words) == 0 {
		return nil, nil
	}

	var out []catalog.Candidate
	for _, a := range c.entries {
		if !supportsOS(a.OS, q.TargetOS) {
			continue
		}
		vocab := make(map[string]bool)
		for _, k := range a.Keywords {
			for _, w := range tokenize(k) {
				vocab[w] = true
			}
		}
		for _, w := range tokenize(a.Name) {
			vocab[w] = true
		}

		hits := 0
		for _, w := range words {
			if vocab[w] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		a.Score = float64(hits) / float64(len(words))
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func supportsOS(list []string, os string) bool {
	if len(list) == 0 || os == "" {
		return true
	}
	for _, o := range list {
		if strings.EqualFold(o, os) {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it into distinct words.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
