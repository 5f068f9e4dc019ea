// Package core port-conflict diagnostics.
package core

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
)

// portScanRange is how many ports above a conflicted one are probed for a
// free alternative.
const portScanRange = 10

// portConflictMessage builds the user-facing message for a bind conflict on
// port: the occupying process when discoverable and the first free port in
// the range above it.
func portConflictMessage(port uint16) string {
	occupant := FindProcessUsingPort(port)
	if occupant != "" {
		occupant = " " + occupant
	}
	if suggested, ok := FindNextAvailablePort(port, portScanRange); ok {
		return fmt.Sprintf("Port %d is already in use%s. Port %d is available.", port, occupant, suggested)
	}
	return fmt.Sprintf("Port %d is already in use%s. Please choose a different port.", port, occupant)
}

// FindProcessUsingPort identifies the process listening on port, returning
// a string like "by 'node' (PID: 1234)" or "" when it cannot be determined.
// Best effort: any subprocess failure yields "", never an error.
func FindProcessUsingPort(port uint16) string {
	switch {
	case IsLinux() || IsMacOS():
		return findProcessUnix(port)
	case IsWindows():
		return findProcessWindows(port)
	default:
		return ""
	}
}

// findProcessUnix resolves the listener PID with lsof, then its name with ps
func findProcessUnix(port uint16) string {
	out, err := exec.Command("lsof", "-i", fmt.Sprintf(":%d", port), "-t", "-sTCP:LISTEN").Output()
	if err != nil {
		return ""
	}
	pidStr := strings.TrimSpace(string(out))
	if i := strings.IndexByte(pidStr, '\n'); i >= 0 {
		pidStr = pidStr[:i]
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return ""
	}
	nameOut, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=").Output()
	if err == nil {
		if name := strings.TrimSpace(string(nameOut)); name != "" {
			return fmt.Sprintf("by '%s' (PID: %d)", name, pid)
		}
	}
	return fmt.Sprintf("by PID %d", pid)
}

// findProcessWindows scans netstat output for the listening PID, then
// resolves its image name with tasklist
func findProcessWindows(port uint16) string {
	out, err := exec.Command("netstat", "-ano").Output()
	if err != nil {
		return ""
	}
	needle := fmt.Sprintf(":%d", port)
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, needle) || !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			continue
		}
		nameOut, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
		if err == nil {
			if first, _, found := strings.Cut(string(nameOut), ","); found {
				name := strings.Trim(strings.TrimSpace(first), `"`)
				if name != "" {
					return fmt.Sprintf("by '%s' (PID: %d)", name, pid)
				}
			}
		}
		return fmt.Sprintf("by PID %d", pid)
	}
	return ""
}

// FindNextAvailablePort probes 127.0.0.1 ports start+1 .. start+maxAttempts
// and returns the first one that binds, releasing the probe immediately
func FindNextAvailablePort(start uint16, maxAttempts int) (uint16, bool) {
	for offset := 1; offset <= maxAttempts; offset++ {
		candidate := uint32(start) + uint32(offset)
		if candidate > 65535 {
			break
		}
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", candidate))
		if err != nil {
			continue
		}
		l.Close()
		return uint16(candidate), true
	}
	return 0, false
}
