// Package core SSH config file parsing.
package core

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParsedSSHConnection is one candidate connection record extracted from an
// OpenSSH client configuration file
type ParsedSSHConnection struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Host            string `json:"host"`
	Username        string `json:"username"`
	Port            uint16 `json:"port"`
	PrivateKeyPath  string `json:"privateKeyPath,omitempty"`
	JumpServerAlias string `json:"jumpServerAlias,omitempty"`
	JumpServerID    string `json:"jumpServerId,omitempty"`
}

// DefaultSSHConfigPath returns ~/.ssh/config
func DefaultSSHConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// ParseSSHConfig reads an OpenSSH client config and extracts one record per
// non-wildcard Host alias. Recognized directives: HostName, User, Port,
// IdentityFile (quotes stripped, ~ expanded), ProxyJump. A second pass
// resolves each ProxyJump alias to the id of the record with that name.
// A missing file yields an empty list.
func ParseSSHConfig(path string) ([]ParsedSSHConnection, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer file.Close()

	var connections []ParsedSSHConnection
	var current *ParsedSSHConnection

	push := func() {
		if current == nil {
			return
		}
		// Wildcard aliases are pattern defaults, not hosts.
		if !strings.ContainsAny(current.Name, "*?") {
			current.ID = "ssh_" + uuid.NewString()
			connections = append(connections, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value := splitDirective(line)
		if key == "" {
			continue
		}

		if strings.EqualFold(key, "host") {
			push()
			current = &ParsedSSHConnection{
				Name:     firstField(value),
				Username: currentUsername(),
				Port:     22,
			}
			continue
		}
		if current == nil {
			continue
		}

		switch strings.ToLower(key) {
		case "hostname":
			current.Host = value
		case "user":
			current.Username = value
		case "port":
			if p, err := strconv.ParseUint(value, 10, 16); err == nil {
				current.Port = uint16(p)
			}
		case "identityfile":
			keyPath := strings.Trim(value, `"'`)
			current.PrivateKeyPath = ExpandHome(keyPath)
		case "proxyjump":
			current.JumpServerAlias = value
		}
	}
	push()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SSH config: %w", err)
	}

	// Second pass: resolve ProxyJump aliases to record ids.
	aliasToID := make(map[string]string, len(connections))
	for _, c := range connections {
		aliasToID[c.Name] = c.ID
	}
	for i := range connections {
		if alias := connections[i].JumpServerAlias; alias != "" {
			if id, ok := aliasToID[alias]; ok {
				connections[i].JumpServerID = id
			}
		}
	}

	return connections, nil
}

// ToConnectionConfig converts the record into a builder-consumable
// configuration. resolve maps a jump-server id to its record; it is called
// recursively to assemble the jump chain and may be nil when the record has
// no jump server. Cycles in the chain terminate it.
func (p *ParsedSSHConnection) ToConnectionConfig(resolve func(id string) *ParsedSSHConnection) *ConnectionConfig {
	return p.toConnectionConfig(resolve, map[string]bool{})
}

func (p *ParsedSSHConnection) toConnectionConfig(resolve func(id string) *ParsedSSHConnection, seen map[string]bool) *ConnectionConfig {
	host := p.Host
	if host == "" {
		// No HostName directive: the alias is the hostname.
		host = p.Name
	}

	auth := PasswordAuth("")
	if p.PrivateKeyPath != "" {
		auth = PrivateKeyAuth(p.PrivateKeyPath, "")
	}

	cfg := &ConnectionConfig{
		ID:       p.ID,
		Name:     p.Name,
		Host:     host,
		Port:     p.Port,
		Username: p.Username,
		Auth:     auth,
	}

	if p.JumpServerID != "" && resolve != nil && !seen[p.ID] {
		seen[p.ID] = true
		if jump := resolve(p.JumpServerID); jump != nil {
			cfg.JumpHost = jump.toConnectionConfig(resolve, seen)
		}
	}
	return cfg
}

// splitDirective separates a config line into its keyword and value,
// accepting both "Key Value" and "Key=Value" forms
func splitDirective(line string) (key, value string) {
	idx := strings.IndexFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '='
	})
	if idx < 0 {
		return line, ""
	}
	key = line[:idx]
	value = strings.TrimLeft(line[idx:], " \t=")
	return key, strings.TrimSpace(value)
}

// firstField returns the first whitespace-separated token of s
func firstField(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return s
}

// currentUsername returns the login name of the invoking user
func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
