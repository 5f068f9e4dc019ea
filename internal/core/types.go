// Package core provides the SSH session and tunnel engine for passage.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// AuthMethodType identifies how a connection authenticates.
type AuthMethodType string

const (
	// AuthPassword authenticates with a username and password
	AuthPassword AuthMethodType = "password"
	// AuthPrivateKey authenticates with a private key file
	AuthPrivateKey AuthMethodType = "privateKey"
)

// AuthMethod describes the credentials for one connection.
// Exactly one of Password or KeyPath is meaningful, selected by Method.
type AuthMethod struct {
	Method     AuthMethodType `json:"type"`
	Password   string         `json:"password,omitempty"`
	KeyPath    string         `json:"keyPath,omitempty"`
	Passphrase string         `json:"passphrase,omitempty"`
}

// PasswordAuth builds a password authentication method
func PasswordAuth(password string) AuthMethod {
	return AuthMethod{Method: AuthPassword, Password: password}
}

// PrivateKeyAuth builds a private-key authentication method.
// passphrase may be empty for unencrypted keys.
func PrivateKeyAuth(keyPath, passphrase string) AuthMethod {
	return AuthMethod{Method: AuthPrivateKey, KeyPath: keyPath, Passphrase: passphrase}
}

// ConnectionConfig describes one SSH destination. JumpHost, when set, is the
// intermediate hop whose session carries the transport for this one; chains
// nest to arbitrary depth.
type ConnectionConfig struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Host     string            `json:"host"`
	Port     uint16            `json:"port"`
	Username string            `json:"username"`
	Auth     AuthMethod        `json:"authMethod"`
	JumpHost *ConnectionConfig `json:"jumpHost,omitempty"`
}

// Validate checks that the configuration can be dialed
func (c *ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	switch c.Auth.Method {
	case AuthPassword, AuthPrivateKey:
	default:
		return fmt.Errorf("invalid auth method: %s", c.Auth.Method)
	}
	if c.JumpHost != nil {
		if err := c.JumpHost.Validate(); err != nil {
			return fmt.Errorf("jump host: %w", err)
		}
	}
	return nil
}

// Addr returns the host:port dial address for this configuration
func (c *ConnectionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnectionResponse is the result the UI layer receives after a connect
// attempt.
type ConnectionResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TermID     string `json:"termId,omitempty"`
	DetectedOS string `json:"detectedOs,omitempty"`
}

// TunnelKind distinguishes the two forwarding directions
type TunnelKind string

const (
	// TunnelLocal is a client-side listener forwarding through the session (-L)
	TunnelLocal TunnelKind = "local"
	// TunnelRemote is a server-side listener forwarding back to the client (-R)
	TunnelRemote TunnelKind = "remote"
)

// LocalTunnelID composes the identifier of a local forwarding
func LocalTunnelID(localPort, remotePort uint16) string {
	return fmt.Sprintf("local:%d:%d", localPort, remotePort)
}

// RemoteTunnelID composes the identifier of a remote forwarding
func RemoteTunnelID(remotePort, localPort uint16) string {
	return fmt.Sprintf("remote:%d:%d", remotePort, localPort)
}

// ParseTunnelID splits a tunnel identifier into its kind and port fields.
// Local ids carry (localPort, remotePort); remote ids carry
// (remotePort, localPort), matching the order they are composed in.
func ParseTunnelID(id string) (kind TunnelKind, first, second uint16, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("malformed tunnel id: %q", id)
	}
	switch parts[0] {
	case string(TunnelLocal):
		kind = TunnelLocal
	case string(TunnelRemote):
		kind = TunnelRemote
	default:
		return "", 0, 0, fmt.Errorf("unknown tunnel id prefix: %q", id)
	}
	p1, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid port in tunnel id %q: %w", id, err)
	}
	p2, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid port in tunnel id %q: %w", id, err)
	}
	return kind, uint16(p1), uint16(p2), nil
}

// ExpandHome replaces a leading ~ in path with the user's home directory
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsWindows returns true if running on Windows
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// IsMacOS returns true if running on macOS
func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

// IsLinux returns true if running on Linux
func IsLinux() bool {
	return runtime.GOOS == "linux"
}
