// Package search matches visitor queries against the site's page index.
package search

import (
	"cmp"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Item kinds.
const (
	TypePage         = "page"
	TypeDocument     = "document"
	TypeOfficial     = "official"
	TypeAnnouncement = "announcement"
	TypeContent      = "content"
)

// DefaultLimit caps the number of results when the caller passes zero.
const DefaultLimit = 10

//go:embed index.yaml
var indexYAML []byte

// Item is one searchable entry. Path is empty for content that has no page of its own.
type Item struct {
	Type     string   `yaml:"type" json:"type"`
	Title    string   `yaml:"title" json:"title"`
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Result is a matched item with its relevance score.
type Result struct {
	Item
	Score int `json:"score"`
}

// Index is an immutable list of items.
type Index struct {
	items []Item
}

// New builds an index from items.
func New(items []Item) *Index {
	return &Index{items: slices.Clone(items)}
}

// Parse reads an index document with a top-level "items" list.
func Parse(data []byte) (*Index, error) {
	var doc struct {
		Items []Item `yaml:"items"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse search index: %w", err)
	}
	for i, it := range doc.Items {
		if it.Title == "" {
			return nil, fmt.Errorf("search index item %d: missing title", i)
		}
		switch it.Type {
		case TypePage, TypeDocument, TypeOfficial, TypeAnnouncement, TypeContent:
		default:
			return nil, fmt.Errorf("search index item %q: unknown type %q", it.Title, it.Type)
		}
	}
	if len(doc.Items) == 0 {
		return nil, errors.New("search index is empty")
	}
	return New(doc.Items), nil
}

// Default returns the index bundled with the binary.
func Default() *Index {
	idx, err := Parse(indexYAML)
	if err != nil {
		panic(err)
	}
	return idx
}

// Len returns the number of indexed items.
func (x *Index) Len() int {
	return len(x.items)
}

// Search returns items matching every word of query, best first.
// Matching is case-insensitive against titles and keywords.
func (x *Index) Search(query string, limit int) []Result {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var results []Result
	for _, it := range x.items {
		total := 0
		matched := true
		for _, term := range terms {
			s := score(it, term)
			if s == 0 {
				matched = false
				break
			}
			total += s
		}
		if !matched {
			continue
		}
		// A query equal to the whole title outranks word-by-word matches.
		if strings.EqualFold(strings.TrimSpace(query), it.Title) {
			total += 100
		}
		results = append(results, Result{Item: it, Score: total})
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// score rates how well a single lower-case term matches an item. Zero means no match.
func score(it Item, term string) int {
	best := 0
	for _, word := range strings.Fields(strings.ToLower(it.Title)) {
		switch {
		case word == term:
			best = max(best, 50)
		case strings.HasPrefix(word, term):
			best = max(best, 30)
		case strings.Contains(word, term):
			best = max(best, 10)
		}
	}
	for _, kw := range it.Keywords {
		kw = strings.ToLower(kw)
		switch {
		case kw == term:
			best = max(best, 20)
		case strings.HasPrefix(kw, term):
			best = max(best, 8)
		case strings.Contains(kw, term):
			best = max(best, 3)
		}
	}
	return best
}
