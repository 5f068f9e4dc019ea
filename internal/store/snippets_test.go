// Package store snippet store tests.
package store

import (
	"path/filepath"
	"testing"
)

func TestSnippetStoreSaveIsUpsert(t *testing.T) {
	s := NewSnippetStoreAt(filepath.Join(t.TempDir(), "snippets.json"))

	snip := Snippet{ID: NewSnippetID(), Name: "disk", Command: "df -h"}
	if err := s.Save(snip); err != nil {
		t.Fatalf("save: %v", err)
	}

	snip.Command = "df -h /"
	if err := s.Save(snip); err != nil {
		t.Fatalf("second save: %v", err)
	}

	snippets, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snippets) != 1 {
		t.Fatalf("snippets = %d, want 1 (save replaces by id)", len(snippets))
	}
	if snippets[0].Command != "df -h /" {
		t.Errorf("Command = %q", snippets[0].Command)
	}
}

func TestSnippetStoreDelete(t *testing.T) {
	s := NewSnippetStoreAt(filepath.Join(t.TempDir(), "snippets.json"))

	keep := Snippet{ID: "snip_keep", Name: "a", Command: "ls"}
	drop := Snippet{ID: "snip_drop", Name: "b", Command: "rm", ConnectionID: "conn_1"}
	for _, sn := range []Snippet{keep, drop} {
		if err := s.Save(sn); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if err := s.Delete("snip_drop"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snippets, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snippets) != 1 || snippets[0].ID != "snip_keep" {
		t.Errorf("snippets = %+v", snippets)
	}

	if err := s.Delete("snip_missing"); err != nil {
		t.Errorf("delete unknown: %v", err)
	}
}

func TestSnippetStoreListMissingFile(t *testing.T) {
	s := NewSnippetStoreAt(filepath.Join(t.TempDir(), "snippets.json"))
	snippets, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snippets) != 0 {
		t.Errorf("snippets = %d, want 0", len(snippets))
	}
}
