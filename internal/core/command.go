// Package core SSH command-line tunnel extraction.
package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParsedTunnel is one forwarding specification extracted from a pasted SSH
// command. For remote tunnels LocalPort is the port on this machine the
// traffic is delivered to and RemotePort the port opened on the server.
type ParsedTunnel struct {
	Type       string `json:"type"`
	LocalPort  uint16 `json:"localPort"`
	RemoteHost string `json:"remoteHost"`
	RemotePort uint16 `json:"remotePort"`
	Name       string `json:"name,omitempty"`
}

// ParseResult is the outcome of parsing a pasted SSH command
type ParseResult struct {
	Success bool           `json:"success"`
	Tunnels []ParsedTunnel `json:"tunnels"`
	Errors  []string       `json:"errors"`
}

var (
	// -L [bind_address:]local_port:remote_host:remote_port
	localFlagRe = regexp.MustCompile(`-L\s+(?:(?:\d+\.\d+\.\d+\.\d+|\[[:a-fA-F0-9]+\]):)?(\d+):([^:\s]+):(\d+)`)
	// -R [bind_address:]remote_port:local_host:local_port
	remoteFlagRe = regexp.MustCompile(`-R\s+(?:(?:\d+\.\d+\.\d+\.\d+|\[[:a-fA-F0-9]+\]):)?(\d+):([^:\s]+):(\d+)`)
)

// ParseSSHCommand extracts -L and -R forwarding specifications from a
// user-pasted SSH command line. Duplicate ports per direction and the
// absence of any tunnel flag are reported as errors; Success requires at
// least one tunnel and no errors.
func ParseSSHCommand(command string) ParseResult {
	var tunnels []ParsedTunnel
	var errs []string

	cleaned := strings.Join(strings.Fields(
		strings.NewReplacer("\\\n", " ", "\n", " ").Replace(command)), " ")

	for _, cap := range localFlagRe.FindAllStringSubmatch(cleaned, -1) {
		localPort, err1 := parsePort(cap[1])
		remotePort, err2 := parsePort(cap[3])
		if err1 != nil || err2 != nil {
			errs = append(errs, fmt.Sprintf("Invalid port numbers in -L flag: %s:%s:%s", cap[1], cap[2], cap[3]))
			continue
		}
		tunnels = append(tunnels, ParsedTunnel{
			Type:       string(TunnelLocal),
			LocalPort:  localPort,
			RemoteHost: cap[2],
			RemotePort: remotePort,
			Name:       fmt.Sprintf("Local %d → %s:%d", localPort, cap[2], remotePort),
		})
	}

	for _, cap := range remoteFlagRe.FindAllStringSubmatch(cleaned, -1) {
		remotePort, err1 := parsePort(cap[1])
		localPort, err2 := parsePort(cap[3])
		if err1 != nil || err2 != nil {
			errs = append(errs, fmt.Sprintf("Invalid port numbers in -R flag: %s:%s:%s", cap[1], cap[2], cap[3]))
			continue
		}
		// SSH -R syntax is remote_port:local_host:local_port; the host
		// between the ports is where traffic lands on this machine.
		tunnels = append(tunnels, ParsedTunnel{
			Type:       string(TunnelRemote),
			LocalPort:  localPort,
			RemoteHost: cap[2],
			RemotePort: remotePort,
			Name:       fmt.Sprintf("Remote %d → %s:%d", remotePort, cap[2], localPort),
		})
	}

	if len(tunnels) == 0 {
		errs = append(errs, "No -L or -R tunnel flags found in command")
	}

	seen := make(map[string]bool)
	for _, t := range tunnels {
		port := t.LocalPort
		if t.Type == string(TunnelRemote) {
			port = t.RemotePort
		}
		key := fmt.Sprintf("%s:%d", t.Type, port)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("Duplicate %s port: %d", t.Type, port))
		}
		seen[key] = true
	}

	return ParseResult{
		Success: len(tunnels) > 0 && len(errs) == 0,
		Tunnels: tunnels,
		Errors:  errs,
	}
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(p), nil
}
