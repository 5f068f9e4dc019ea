// Package store tunnel configuration persistence.
package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// SavedTunnel is a persisted forwarding configuration. OriginalPort records
// the port the user asked for when a conflicted tunnel was auto-moved to a
// suggested alternative.
type SavedTunnel struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	LocalPort    uint16 `json:"localPort"`
	RemoteHost   string `json:"remoteHost"`
	RemotePort   uint16 `json:"remotePort"`
	BindAddress  string `json:"bindAddress,omitempty"`
	BindToAny    bool   `json:"bindToAny,omitempty"`
	AutoStart    bool   `json:"autoStart,omitempty"`
	Status       string `json:"status,omitempty"`
	OriginalPort uint16 `json:"originalPort,omitempty"`
	Group        string `json:"group,omitempty"`
}

// EffectiveBindAddress resolves the address a local tunnel listens on
func (t *SavedTunnel) EffectiveBindAddress() string {
	if t.BindAddress != "" {
		return t.BindAddress
	}
	if t.BindToAny {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// SavedTunnelsData is the tunnels document on disk
type SavedTunnelsData struct {
	Tunnels []SavedTunnel `json:"tunnels"`
}

// NewTunnelID generates an identifier for a new tunnel record
func NewTunnelID() string {
	return "tun_" + uuid.NewString()
}

// TunnelStore persists tunnel configurations to a single JSON file
type TunnelStore struct {
	mu   sync.Mutex
	path string
}

// NewTunnelStore creates a tunnel store in the default data directory
func NewTunnelStore() (*TunnelStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return &TunnelStore{path: filepath.Join(dir, "tunnels.json")}, nil
}

// NewTunnelStoreAt creates a tunnel store backed by an explicit file path
func NewTunnelStoreAt(path string) *TunnelStore {
	return &TunnelStore{path: path}
}

// List returns all saved tunnels; a missing file yields an empty list
func (s *TunnelStore) List() ([]SavedTunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	return data.Tunnels, nil
}

// ListForConnection returns the tunnels attached to a connection
func (s *TunnelStore) ListForConnection(connectionID string) ([]SavedTunnel, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var tunnels []SavedTunnel
	for _, t := range all {
		if t.ConnectionID == connectionID {
			tunnels = append(tunnels, t)
		}
	}
	return tunnels, nil
}

// Get returns the tunnel with the given id
func (s *TunnelStore) Get(id string) (*SavedTunnel, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("tunnel not found: %s", id)
}

// Upsert inserts tunnel or replaces the record with the same id
func (s *TunnelStore) Upsert(tunnel SavedTunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range data.Tunnels {
		if data.Tunnels[i].ID == tunnel.ID {
			data.Tunnels[i] = tunnel
			replaced = true
			break
		}
	}
	if !replaced {
		data.Tunnels = append(data.Tunnels, tunnel)
	}
	return writeJSON(s.path, data)
}

// Delete removes the tunnel with the given id; unknown ids are ignored
func (s *TunnelStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	kept := data.Tunnels[:0]
	for _, t := range data.Tunnels {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	data.Tunnels = kept
	return writeJSON(s.path, data)
}

func (s *TunnelStore) load() (*SavedTunnelsData, error) {
	data := &SavedTunnelsData{}
	if _, err := readJSON(s.path, data); err != nil {
		return nil, err
	}
	return data, nil
}
