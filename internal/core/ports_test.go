// Package core port diagnostic tests.
package core

import (
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestFindNextAvailablePort(t *testing.T) {
	start := freePort(t)

	port, ok := FindNextAvailablePort(start, 10)
	if !ok {
		t.Fatal("no available port found in an idle range")
	}
	if port <= start || port > start+10 {
		t.Errorf("port %d outside (%d, %d]", port, start, start+10)
	}

	// The returned port must actually bind.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("suggested port does not bind: %v", err)
	}
	l.Close()
}

func TestFindNextAvailablePortSkipsOccupied(t *testing.T) {
	start := freePort(t)
	occupier, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", start+1))
	if err != nil {
		t.Skipf("cannot occupy %d: %v", start+1, err)
	}
	defer occupier.Close()

	port, ok := FindNextAvailablePort(start, 10)
	if !ok {
		t.Fatal("no available port found")
	}
	if port == start+1 {
		t.Error("suggested the occupied port")
	}
}

func TestFindNextAvailablePortNearCeiling(t *testing.T) {
	// Probing above 65535 must stop, not wrap.
	if port, ok := FindNextAvailablePort(65535, 10); ok {
		t.Errorf("got port %d above the valid range", port)
	}
}

func TestFindProcessUsingPortBestEffort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := uint16(l.Addr().(*net.TCPAddr).Port)

	// Best effort: "" is acceptable (no lsof, permissions), but a non-empty
	// result must name a PID.
	got := FindProcessUsingPort(port)
	if got != "" && !strings.Contains(got, "PID") {
		t.Errorf("occupant string %q does not name a PID", got)
	}
}

func TestFindProcessUsingPortIdlePort(t *testing.T) {
	port := freePort(t)
	if got := FindProcessUsingPort(port); got != "" {
		t.Errorf("idle port reported occupant %q", got)
	}
}

func TestPortConflictMessage(t *testing.T) {
	port := freePort(t)
	msg := portConflictMessage(port)
	if !strings.Contains(msg, fmt.Sprintf("Port %d is already in use", port)) {
		t.Errorf("message %q does not name the port", msg)
	}
}
