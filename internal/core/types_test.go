// Package core type and identifier tests.
package core

import "testing"

func TestTunnelIDRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		kind   TunnelKind
		first  uint16
		second uint16
	}{
		{"local", LocalTunnelID(8080, 5432), TunnelLocal, 8080, 5432},
		{"remote", RemoteTunnelID(9000, 3000), TunnelRemote, 9000, 3000},
		{"max ports", LocalTunnelID(65535, 65535), TunnelLocal, 65535, 65535},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, first, second, err := ParseTunnelID(tt.id)
			if err != nil {
				t.Fatalf("ParseTunnelID(%q): %v", tt.id, err)
			}
			if kind != tt.kind || first != tt.first || second != tt.second {
				t.Errorf("got (%s, %d, %d), want (%s, %d, %d)",
					kind, first, second, tt.kind, tt.first, tt.second)
			}
		})
	}
}

func TestParseTunnelIDRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"local",
		"local:8080",
		"local:8080:80:extra",
		"dynamic:1080:0",
		"local:notaport:80",
		"remote:9000:70000",
	}
	for _, id := range bad {
		if _, _, _, err := ParseTunnelID(id); err == nil {
			t.Errorf("ParseTunnelID(%q) should fail", id)
		}
	}
}

func TestConnectionConfigValidate(t *testing.T) {
	valid := &ConnectionConfig{
		Host: "h.example", Port: 22, Username: "u",
		Auth: PasswordAuth("p"),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
	}{
		{"missing host", func(c *ConnectionConfig) { c.Host = "" }},
		{"zero port", func(c *ConnectionConfig) { c.Port = 0 }},
		{"missing username", func(c *ConnectionConfig) { c.Username = "" }},
		{"bad auth method", func(c *ConnectionConfig) { c.Auth.Method = "kerberos" }},
		{"invalid jump host", func(c *ConnectionConfig) {
			c.JumpHost = &ConnectionConfig{Port: 22, Username: "b", Auth: PasswordAuth("p")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"~/.ssh/id_rsa", home + "/.ssh/id_rsa"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"relative/path", "relative/path"},
		{"~user/file", "~user/file"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
