// Package quotes loads the optional reference list of well-known lines per
// title used for quote-match scoring.
package quotes

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Book maps a normalized title to its quotes. The zero value is empty and usable.
type Book struct {
	byTitle map[string][]string
}

// Load reads a YAML mapping of title to quote list. An empty path yields an
// empty book.
//
//	The Matrix:
//	  - "There is no spoon."
func Load(path string) (*Book, error) {
	if path == "" {
		return &Book{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quotes: %w", err)
	}
	return Parse(b)
}

func Parse(data []byte) (*Book, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing quotes: %w", err)
	}
	book := &Book{byTitle: make(map[string][]string, len(raw))}
	for title, qs := range raw {
		key := normalize(title)
		for _, q := range qs {
			if q = strings.TrimSpace(q); q != "" {
				book.byTitle[key] = append(book.byTitle[key], q)
			}
		}
	}
	return book, nil
}

// For returns the quotes registered for title, matched case-insensitively.
func (b *Book) For(title string) []string {
	if b == nil || b.byTitle == nil {
		return nil
	}
	return b.byTitle[normalize(title)]
}

func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.byTitle)
}

func normalize(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
