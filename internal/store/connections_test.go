// Package store connection store tests.
package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hollowc/passage/internal/core"
)

func newTestConnectionStore(t *testing.T) *ConnectionStore {
	t.Helper()
	return NewConnectionStoreAt(filepath.Join(t.TempDir(), "connections.json"))
}

func TestConnectionStoreLoadMissingFile(t *testing.T) {
	s := newTestConnectionStore(t)
	data, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(data.Connections) != 0 || len(data.Folders) != 0 {
		t.Errorf("fresh store not empty: %+v", data)
	}
}

func TestConnectionStoreUpsertAndDelete(t *testing.T) {
	s := newTestConnectionStore(t)

	conn := SavedConnection{
		ID: NewConnectionID(), Name: "prod-db", Host: "db.example.com",
		Port: 22, Username: "deploy", PrivateKeyPath: "~/.ssh/id_ed25519",
	}
	if err := s.Upsert(conn); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Get(conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "prod-db" {
		t.Errorf("Name = %q", got.Name)
	}

	conn.Name = "prod-db-renamed"
	if err := s.Upsert(conn); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	data, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(data.Connections) != 1 {
		t.Fatalf("connections = %d, want 1 (upsert replaces)", len(data.Connections))
	}
	if data.Connections[0].Name != "prod-db-renamed" {
		t.Errorf("Name = %q after upsert", data.Connections[0].Name)
	}

	if err := s.Delete(conn.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(conn.ID); err == nil {
		t.Error("deleted connection still present")
	}

	// Deleting an unknown id is harmless.
	if err := s.Delete("conn_missing"); err != nil {
		t.Errorf("delete unknown: %v", err)
	}
}

func TestConnectionStoreCamelCaseFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	s := NewConnectionStoreAt(path)

	err := s.Upsert(SavedConnection{
		ID: "conn_1", Name: "n", Host: "h", Port: 22, Username: "u",
		PrivateKeyPath: "/k", JumpServerID: "conn_0", IsFavorite: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, field := range []string{`"privateKeyPath"`, `"jumpServerId"`, `"isFavorite"`, `"connections"`} {
		if !strings.Contains(string(raw), field) {
			t.Errorf("on-disk document missing %s: %s", field, raw)
		}
	}
}

func TestSavedConnectionAuthMethod(t *testing.T) {
	withKey := SavedConnection{PrivateKeyPath: "/k", Passphrase: "pp", Password: "ignored"}
	if auth := withKey.AuthMethod(); auth.Method != core.AuthPrivateKey || auth.KeyPath != "/k" || auth.Passphrase != "pp" {
		t.Errorf("key auth = %+v", auth)
	}

	withPassword := SavedConnection{Password: "pw"}
	if auth := withPassword.AuthMethod(); auth.Method != core.AuthPassword || auth.Password != "pw" {
		t.Errorf("password auth = %+v", auth)
	}
}

func TestToConnectionConfigResolvesJumpChain(t *testing.T) {
	bastion := SavedConnection{
		ID: "conn_bastion", Name: "bastion", Host: "bastion.example.com",
		Port: 22, Username: "b", PrivateKeyPath: "~/.ssh/id",
	}
	inner := SavedConnection{
		ID: "conn_inner", Name: "inner", Host: "inner", Port: 22,
		Username: "u", Password: "p", JumpServerID: "conn_bastion",
	}
	records := map[string]*SavedConnection{"conn_bastion": &bastion}

	cfg := inner.ToConnectionConfig(func(id string) *SavedConnection { return records[id] })
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config not consumable: %v", err)
	}
	if cfg.JumpHost == nil {
		t.Fatal("jump chain not resolved")
	}
	if cfg.JumpHost.Host != "bastion.example.com" {
		t.Errorf("jump host = %q", cfg.JumpHost.Host)
	}
	if cfg.JumpHost.Auth.Method != core.AuthPrivateKey {
		t.Errorf("jump auth = %s", cfg.JumpHost.Auth.Method)
	}
	if cfg.Auth.Method != core.AuthPassword {
		t.Errorf("target auth = %s", cfg.Auth.Method)
	}
}

func TestToConnectionConfigCycleTerminates(t *testing.T) {
	a := SavedConnection{ID: "a", Name: "a", Host: "a", Port: 22, Username: "u", Password: "p", JumpServerID: "b"}
	b := SavedConnection{ID: "b", Name: "b", Host: "b", Port: 22, Username: "u", Password: "p", JumpServerID: "a"}
	records := map[string]*SavedConnection{"a": &a, "b": &b}

	cfg := a.ToConnectionConfig(func(id string) *SavedConnection { return records[id] })
	depth := 0
	for hop := cfg; hop != nil; hop = hop.JumpHost {
		depth++
		if depth > 10 {
			t.Fatal("jump cycle did not terminate")
		}
	}
}

func TestFromParsedSSHConnection(t *testing.T) {
	parsed := core.ParsedSSHConnection{
		ID: "ssh_1", Name: "alias", Username: "u", Port: 2222,
		PrivateKeyPath: "/k", JumpServerID: "ssh_0",
	}
	conn := FromParsedSSHConnection(parsed)
	if conn.Host != "alias" {
		t.Errorf("Host = %q, want alias fallback when HostName absent", conn.Host)
	}
	if conn.Port != 2222 || conn.PrivateKeyPath != "/k" || conn.JumpServerID != "ssh_0" {
		t.Errorf("converted = %+v", conn)
	}
}
