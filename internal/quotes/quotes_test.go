package quotes

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseAndLookup(t *testing.T) {
	book, err := Parse([]byte(`
The Matrix:
  - "There is no spoon."
  - "  "
"  the   terminator ":
  - "I'll be back."
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if book.Len() != 2 {
		t.Fatalf("expected 2 titles, got %d", book.Len())
	}
	if got := book.For("the matrix"); len(got) != 1 || got[0] != "There is no spoon." {
		t.Errorf("unexpected matrix quotes %v", got)
	}
	if got := book.For("The Terminator"); len(got) != 1 {
		t.Errorf("expected whitespace-insensitive lookup, got %v", got)
	}
	if got := book.For("Unknown"); got != nil {
		t.Errorf("expected nil for unknown title, got %v", got)
	}
}

func TestLoad(t *testing.T) {
	book, err := Load("")
	if err != nil || book.Len() != 0 || book.For("x") != nil {
		t.Fatalf("empty path should give empty book: %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "quotes.yaml")
	if err := os.WriteFile(path, []byte("Heat:\n  - \"Don't waste my time.\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	book, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(book.For("heat")) != 1 {
		t.Fatalf("expected one quote for Heat")
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("- just\n- a list\n")); err == nil {
		t.Fatal("expected error for non-mapping document")
	}
}

func TestNilBook(t *testing.T) {
	var b *Book
	if b.For("x") != nil || b.Len() != 0 {
		t.Fatal("nil book should be empty")
	}
}
