// Package store snippet persistence.
package store

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Snippet is a saved shell command, optionally scoped to one connection
type Snippet struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Command      string   `json:"command"`
	Category     string   `json:"category,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
}

// SnippetsData is the snippets document on disk
type SnippetsData struct {
	Snippets []Snippet `json:"snippets"`
}

// NewSnippetID generates an identifier for a new snippet
func NewSnippetID() string {
	return "snip_" + uuid.NewString()
}

// SnippetStore persists snippets to a single JSON file
type SnippetStore struct {
	mu   sync.Mutex
	path string
}

// NewSnippetStore creates a snippet store in the default data directory
func NewSnippetStore() (*SnippetStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return &SnippetStore{path: filepath.Join(dir, "snippets.json")}, nil
}

// NewSnippetStoreAt creates a snippet store backed by an explicit file path
func NewSnippetStoreAt(path string) *SnippetStore {
	return &SnippetStore{path: path}
}

// List returns all snippets; a missing file yields an empty list
func (s *SnippetStore) List() ([]Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *SnippetStore) list() ([]Snippet, error) {
	data := &SnippetsData{}
	if _, err := readJSON(s.path, data); err != nil {
		return nil, err
	}
	return data.Snippets, nil
}

// Save inserts snippet or replaces the one with the same id
func (s *SnippetStore) Save(snippet Snippet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snippets, err := s.list()
	if err != nil {
		return err
	}
	replaced := false
	for i := range snippets {
		if snippets[i].ID == snippet.ID {
			snippets[i] = snippet
			replaced = true
			break
		}
	}
	if !replaced {
		snippets = append(snippets, snippet)
	}
	return writeJSON(s.path, &SnippetsData{Snippets: snippets})
}

// Delete removes the snippet with the given id; unknown ids are ignored
func (s *SnippetStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snippets, err := s.list()
	if err != nil {
		return err
	}
	kept := snippets[:0]
	for _, sn := range snippets {
		if sn.ID != id {
			kept = append(kept, sn)
		}
	}
	return writeJSON(s.path, &SnippetsData{Snippets: kept})
}
