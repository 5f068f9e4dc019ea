// Package core tunnel lifecycle: local and remote port forwardings.
package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// remoteTarget is the local endpoint a remote forwarding delivers to
type remoteTarget struct {
	LocalHost string
	LocalPort uint16
	BindAddr  string
}

// localForward is one live local forwarding: closing listener aborts the
// accept loop, closing stop broadcasts cancellation to every in-flight
// per-connection copy task.
type localForward struct {
	listener net.Listener
	stop     chan struct{}
}

// TunnelManager owns the registries of active forwardings. A remote port is
// registered iff the server currently holds a forward request for it; a
// local tunnel id is registered iff its accept loop is live. Both maps are
// mutated only under their locks.
type TunnelManager struct {
	remoteMu       sync.Mutex
	remoteForwards map[uint16]remoteTarget

	localMu        sync.Mutex
	localListeners map[string]*localForward
}

// NewTunnelManager creates an empty tunnel manager
func NewTunnelManager() *TunnelManager {
	return &TunnelManager{
		remoteForwards: make(map[uint16]remoteTarget),
		localListeners: make(map[string]*localForward),
	}
}

// StartLocalForwarding binds bindAddr:localPort and forwards every accepted
// connection through session to remoteHost:remotePort. Starting an id that
// is already registered returns the existing id without a second listener;
// differing parameters on such a call are ignored.
func (m *TunnelManager) StartLocalForwarding(session SessionConn, bindAddr string, localPort uint16, remoteHost string, remotePort uint16) (string, error) {
	tunnelID := LocalTunnelID(localPort, remotePort)

	m.localMu.Lock()
	if _, exists := m.localListeners[tunnelID]; exists {
		m.localMu.Unlock()
		Warn("tunnel %s already active, ignoring start (requested %s:%d -> %s:%d)",
			tunnelID, bindAddr, localPort, remoteHost, remotePort)
		return tunnelID, nil
	}
	m.localMu.Unlock()

	addr := fmt.Sprintf("%s:%d", bindAddr, localPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			return "", &PortInUseError{Port: localPort, Message: portConflictMessage(localPort)}
		}
		return "", fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	fwd := &localForward{listener: listener, stop: make(chan struct{})}

	m.localMu.Lock()
	if _, exists := m.localListeners[tunnelID]; exists {
		// Lost a start race; the earlier listener wins.
		m.localMu.Unlock()
		listener.Close()
		return tunnelID, nil
	}
	m.localListeners[tunnelID] = fwd
	m.localMu.Unlock()

	Info("started local forwarding %s: %s -> %s:%d", tunnelID, addr, remoteHost, remotePort)
	go m.acceptLoop(session, fwd, tunnelID, remoteHost, remotePort)

	return tunnelID, nil
}

// acceptLoop accepts connections until the listener is closed. Each
// accepted connection gets its own forwarding task subscribed to the
// tunnel's cancellation broadcast.
func (m *TunnelManager) acceptLoop(session SessionConn, fwd *localForward, tunnelID, remoteHost string, remotePort uint16) {
	for {
		conn, err := fwd.listener.Accept()
		if err != nil {
			select {
			case <-fwd.stop:
				Debug("listener for %s stopped", tunnelID)
			default:
				if !errors.Is(err, net.ErrClosed) {
					Warn("accept on %s: %v", tunnelID, err)
				}
				// The loop is dying without a stop request; drop the
				// registry entry so it keeps matching live loops.
				m.removeLocalForward(tunnelID, fwd)
			}
			return
		}
		go m.forwardConn(session, conn, remoteHost, remotePort, fwd.stop)
	}
}

// forwardConn carries one accepted connection. The session lock is held
// only inside OpenDirectTCP; the copy runs unlocked so concurrent
// connections on the same session never serialize on each other.
func (m *TunnelManager) forwardConn(session SessionConn, conn net.Conn, remoteHost string, remotePort uint16, stop <-chan struct{}) {
	ch, err := session.OpenDirectTCP(remoteHost, remotePort, "127.0.0.1", 0)
	if err != nil {
		Error("failed to open direct-tcpip channel: %v", err)
		conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		copyStreams(conn, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-stop:
		Debug("aborting active connection on stop request")
		conn.Close()
		ch.Close()
		<-done
	}
}

// StartRemoteForwarding asks the server to listen on bindAddr:remotePort
// and deliver connections to localHost:localPort. The registry entry is
// inserted before the protocol request so the handler can route channels
// the server opens immediately; a refused request rolls it back. Starting a
// remote port that is already registered returns the existing id.
func (m *TunnelManager) StartRemoteForwarding(session SessionConn, bindAddr string, remotePort uint16, localHost string, localPort uint16) (string, error) {
	tunnelID := RemoteTunnelID(remotePort, localPort)

	m.remoteMu.Lock()
	if _, exists := m.remoteForwards[remotePort]; exists {
		m.remoteMu.Unlock()
		Warn("remote tunnel on port %d already active", remotePort)
		return tunnelID, nil
	}
	m.remoteForwards[remotePort] = remoteTarget{LocalHost: localHost, LocalPort: localPort, BindAddr: bindAddr}
	m.remoteMu.Unlock()

	if err := session.RequestTCPForward(bindAddr, remotePort); err != nil {
		m.remoteMu.Lock()
		delete(m.remoteForwards, remotePort)
		m.remoteMu.Unlock()
		return "", &RemoteForwardError{Port: remotePort, Err: err}
	}

	Info("started remote forwarding %s: %s:%d -> %s:%d", tunnelID, bindAddr, remotePort, localHost, localPort)
	return tunnelID, nil
}

// StopTunnel stops the forwarding named by tunnelID. Stopping is idempotent
// and never fails; unknown ids are logged and ignored. For remote tunnels a
// nil session skips the protocol cancel (the registry is still cleared),
// and bindAddrOverride, when non-empty, replaces the stored bind address in
// the cancel request.
func (m *TunnelManager) StopTunnel(session SessionConn, tunnelID string, bindAddrOverride string) {
	Info("stopping tunnel %s", tunnelID)
	switch {
	case strings.HasPrefix(tunnelID, "local:"):
		m.stopLocal(tunnelID)

	case strings.HasPrefix(tunnelID, "remote:"):
		_, remotePort, _, err := parseRemoteID(tunnelID)
		if err != nil {
			Warn("%v", err)
			return
		}
		m.stopRemote(session, remotePort, bindAddrOverride)

	default:
		Warn("unknown tunnel id: %s", tunnelID)
	}
}

// stopLocal removes the registry entry and signals the accept loop and all
// per-connection tasks. Removal and signaling form one critical section so
// a concurrent start cannot observe a registered-but-stopping tunnel.
func (m *TunnelManager) stopLocal(tunnelID string) {
	m.localMu.Lock()
	fwd, exists := m.localListeners[tunnelID]
	if exists {
		delete(m.localListeners, tunnelID)
		close(fwd.stop)
		fwd.listener.Close()
	}
	m.localMu.Unlock()
	if !exists {
		Warn("local tunnel %s not found, nothing to stop", tunnelID)
	}
}

// stopRemote removes the registry entry before sending the cancel so late
// inbound channels are declined rather than routed to a dead target. When
// the entry is already gone a cancel is still attempted defensively.
func (m *TunnelManager) stopRemote(session SessionConn, remotePort uint16, bindAddrOverride string) {
	m.remoteMu.Lock()
	target, exists := m.remoteForwards[remotePort]
	delete(m.remoteForwards, remotePort)
	m.remoteMu.Unlock()

	bindAddr := bindAddrOverride
	if bindAddr == "" {
		if exists {
			bindAddr = target.BindAddr
		} else {
			bindAddr = "0.0.0.0"
		}
	}
	if !exists {
		Warn("remote tunnel on port %d not found, attempting cancel on %s anyway", remotePort, bindAddr)
	}
	if session == nil {
		return
	}
	if err := session.CancelTCPForward(bindAddr, remotePort); err != nil {
		Warn("cancel-tcpip-forward for port %d: %v", remotePort, err)
	} else {
		Info("cancelled remote forwarding on port %d (bind address %s)", remotePort, bindAddr)
	}
}

// StopAll stops every registered tunnel, remote ones through session when
// it is non-nil
func (m *TunnelManager) StopAll(session SessionConn) {
	for _, id := range m.ActiveTunnels() {
		m.StopTunnel(session, id, "")
	}
}

// ActiveTunnels lists the ids of all registered forwardings
func (m *TunnelManager) ActiveTunnels() []string {
	var ids []string
	m.localMu.Lock()
	for id := range m.localListeners {
		ids = append(ids, id)
	}
	m.localMu.Unlock()
	m.remoteMu.Lock()
	for port, target := range m.remoteForwards {
		ids = append(ids, RemoteTunnelID(port, target.LocalPort))
	}
	m.remoteMu.Unlock()
	return ids
}

// IsActive reports whether tunnelID is currently registered
func (m *TunnelManager) IsActive(tunnelID string) bool {
	switch {
	case strings.HasPrefix(tunnelID, "local:"):
		m.localMu.Lock()
		_, ok := m.localListeners[tunnelID]
		m.localMu.Unlock()
		return ok
	case strings.HasPrefix(tunnelID, "remote:"):
		_, remotePort, _, err := parseRemoteID(tunnelID)
		if err != nil {
			return false
		}
		m.remoteMu.Lock()
		_, ok := m.remoteForwards[remotePort]
		m.remoteMu.Unlock()
		return ok
	}
	return false
}

// lookupRemoteForward returns the target registered for remotePort
func (m *TunnelManager) lookupRemoteForward(remotePort uint16) (remoteTarget, bool) {
	m.remoteMu.Lock()
	defer m.remoteMu.Unlock()
	target, ok := m.remoteForwards[remotePort]
	return target, ok
}

// removeLocalForward drops tunnelID from the registry if it still maps to
// fwd, closing the listener
func (m *TunnelManager) removeLocalForward(tunnelID string, fwd *localForward) {
	m.localMu.Lock()
	if current, ok := m.localListeners[tunnelID]; ok && current == fwd {
		delete(m.localListeners, tunnelID)
	}
	m.localMu.Unlock()
	fwd.listener.Close()
}

// parseRemoteID extracts the ports of a remote tunnel id
func parseRemoteID(tunnelID string) (kind TunnelKind, remotePort, localPort uint16, err error) {
	kind, remotePort, localPort, err = ParseTunnelID(tunnelID)
	if err == nil && kind != TunnelRemote {
		err = fmt.Errorf("not a remote tunnel id: %s", tunnelID)
	}
	return kind, remotePort, localPort, err
}

// copyStreams copies bytes in both directions between a and b until one
// direction finishes, then closes both ends and drains the other copier.
func copyStreams(a, b io.ReadWriteCloser) {
	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(a, b)
		done <- err
	}()
	go func() {
		_, err := io.Copy(b, a)
		done <- err
	}()

	if err := <-done; err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		Debug("stream copy ended: %v", err)
	}
	a.Close()
	b.Close()
	<-done
}

// isAddrInUse reports whether err is a bind conflict
func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(strings.ToLower(opErr.Err.Error()), "address already in use") ||
			strings.Contains(strings.ToLower(opErr.Err.Error()), "only one usage of each socket address")
	}
	return false
}
