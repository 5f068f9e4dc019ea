// Package store connection and folder persistence.
package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/hollowc/passage/internal/core"
)

// SavedConnection is a persisted connection record. Field names follow the
// camelCase convention of the on-disk format.
type SavedConnection struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Host           string   `json:"host"`
	Port           uint16   `json:"port"`
	Username       string   `json:"username"`
	Password       string   `json:"password,omitempty"`
	PrivateKeyPath string   `json:"privateKeyPath,omitempty"`
	Passphrase     string   `json:"passphrase,omitempty"`
	JumpServerID   string   `json:"jumpServerId,omitempty"`
	LastConnected  int64    `json:"lastConnected,omitempty"`
	Icon           string   `json:"icon,omitempty"`
	Folder         string   `json:"folder,omitempty"`
	Theme          string   `json:"theme,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAt      int64    `json:"createdAt,omitempty"`
	IsFavorite     bool     `json:"isFavorite,omitempty"`
	PinnedFeatures []string `json:"pinnedFeatures,omitempty"`
}

// Folder groups connections in the UI
type Folder struct {
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// SavedData is the connections document on disk
type SavedData struct {
	Connections []SavedConnection `json:"connections"`
	Folders     []Folder          `json:"folders"`
}

// NewConnectionID generates an identifier for a new connection record
func NewConnectionID() string {
	return "conn_" + uuid.NewString()
}

// ConnectionStore persists connections and folders to a single JSON file
type ConnectionStore struct {
	mu   sync.Mutex
	path string
}

// NewConnectionStore creates a connection store in the default data
// directory
func NewConnectionStore() (*ConnectionStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return &ConnectionStore{path: filepath.Join(dir, "connections.json")}, nil
}

// NewConnectionStoreAt creates a connection store backed by an explicit
// file path
func NewConnectionStoreAt(path string) *ConnectionStore {
	return &ConnectionStore{path: path}
}

// Load reads the connections document; a missing file yields an empty one
func (s *ConnectionStore) Load() (*SavedData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *ConnectionStore) load() (*SavedData, error) {
	data := &SavedData{}
	if _, err := readJSON(s.path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Save writes the connections document
func (s *ConnectionStore) Save(data *SavedData) error {
	if data == nil {
		return fmt.Errorf("data cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path, data)
}

// Get returns the connection with the given id
func (s *ConnectionStore) Get(id string) (*SavedConnection, error) {
	data, err := s.Load()
	if err != nil {
		return nil, err
	}
	for i := range data.Connections {
		if data.Connections[i].ID == id {
			return &data.Connections[i], nil
		}
	}
	return nil, fmt.Errorf("connection not found: %s", id)
}

// Upsert inserts conn or replaces the record with the same id
func (s *ConnectionStore) Upsert(conn SavedConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range data.Connections {
		if data.Connections[i].ID == conn.ID {
			data.Connections[i] = conn
			replaced = true
			break
		}
	}
	if !replaced {
		data.Connections = append(data.Connections, conn)
	}
	return writeJSON(s.path, data)
}

// Delete removes the connection with the given id; unknown ids are ignored
func (s *ConnectionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	kept := data.Connections[:0]
	for _, c := range data.Connections {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	data.Connections = kept
	return writeJSON(s.path, data)
}

// Backup copies the connections file to a .backup sibling
func (s *ConnectionStore) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return backupFile(s.path)
}

// AuthMethod derives the credential variant of the record: key-based when a
// private key path is present, password otherwise
func (c *SavedConnection) AuthMethod() core.AuthMethod {
	if c.PrivateKeyPath != "" {
		return core.PrivateKeyAuth(c.PrivateKeyPath, c.Passphrase)
	}
	return core.PasswordAuth(c.Password)
}

// ToConnectionConfig assembles the session-builder configuration for this
// record, resolving the jump-server chain through resolve. Chains stop at
// unknown ids and cycles.
func (c *SavedConnection) ToConnectionConfig(resolve func(id string) *SavedConnection) *core.ConnectionConfig {
	return c.toConnectionConfig(resolve, map[string]bool{})
}

func (c *SavedConnection) toConnectionConfig(resolve func(id string) *SavedConnection, seen map[string]bool) *core.ConnectionConfig {
	cfg := &core.ConnectionConfig{
		ID:       c.ID,
		Name:     c.Name,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Auth:     c.AuthMethod(),
	}
	if c.JumpServerID != "" && resolve != nil && !seen[c.ID] {
		seen[c.ID] = true
		if jump := resolve(c.JumpServerID); jump != nil {
			cfg.JumpHost = jump.toConnectionConfig(resolve, seen)
		}
	}
	return cfg
}

// FromParsedSSHConnection converts an ssh-config import record into a
// saved connection
func FromParsedSSHConnection(p core.ParsedSSHConnection) SavedConnection {
	host := p.Host
	if host == "" {
		host = p.Name
	}
	return SavedConnection{
		ID:             p.ID,
		Name:           p.Name,
		Host:           host,
		Port:           p.Port,
		Username:       p.Username,
		PrivateKeyPath: p.PrivateKeyPath,
		JumpServerID:   p.JumpServerID,
	}
}
