// Package tui keyboard and action handlers.
package tui

import (
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/hollowc/passage/internal/core"
	"github.com/hollowc/passage/internal/store"
)

// handleConnKeys handles keys in the connections panel
func (a *App) handleConnKeys(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyRune {
		switch event.Rune() {
		case 'd':
			a.disconnectSelected()
			return nil
		case 'x':
			a.confirmDeleteConnection()
			return nil
		}
	}
	return event
}

// handleTunnelKeys handles keys in the tunnels panel
func (a *App) handleTunnelKeys(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyRune {
		switch event.Rune() {
		case 's':
			a.toggleSelectedTunnel()
			return nil
		case 'x':
			a.confirmDeleteTunnel()
			return nil
		}
	}
	return event
}

// connectSelected establishes a session for the connection under the cursor
func (a *App) connectSelected() {
	conn := a.selectedConnection()
	if conn == nil {
		return
	}

	a.mu.Lock()
	_, alreadyConnected := a.sessions[conn.ID]
	a.mu.Unlock()
	if alreadyConnected {
		a.updateStatusBar("%s is already connected", conn.Name)
		return
	}

	a.updateStatusBar("Connecting to %s...", conn.Name)
	go func() {
		resp := a.connect(conn)
		a.app.QueueUpdateDraw(func() {
			if resp.Success {
				a.updateStatusBar("✓ %s", resp.Message)
			} else {
				a.updateStatusBar("[red]✗ %s", resp.Message)
				a.showErrorModal("Connection Failed", resp.Message)
			}
			a.reloadData()
		})
	}()
}

// connect builds the session for conn and auto-starts its tunnels. It is
// called off the UI goroutine.
func (a *App) connect(conn *store.SavedConnection) core.ConnectionResponse {
	cfg := conn.ToConnectionConfig(a.resolveConnection)
	if err := cfg.Validate(); err != nil {
		return core.ConnectionResponse{Success: false, Message: err.Error()}
	}

	sess, err := a.builder.Connect(cfg)
	if err != nil {
		return core.ConnectionResponse{Success: false, Message: connectErrorMessage(err)}
	}

	detected := sess.DetectOS()

	a.mu.Lock()
	a.sessions[conn.ID] = sess
	if detected != "" {
		a.detectedOS[conn.ID] = detected
	}
	a.mu.Unlock()

	// Record the connect time, best effort.
	updated := *conn
	updated.LastConnected = time.Now().Unix()
	if err := a.connStore.Upsert(updated); err != nil {
		core.Warn("failed to record last-connected time: %v", err)
	}

	a.autoStartTunnels(conn.ID, sess)

	return core.ConnectionResponse{
		Success:    true,
		Message:    fmt.Sprintf("Connected to %s", conn.Name),
		TermID:     conn.ID,
		DetectedOS: detected,
	}
}

// resolveConnection looks a connection up by id for jump-chain assembly
func (a *App) resolveConnection(id string) *store.SavedConnection {
	conn, err := a.connStore.Get(id)
	if err != nil {
		core.Warn("jump server %s not found: %v", id, err)
		return nil
	}
	return conn
}

// autoStartTunnels starts every auto-start tunnel attached to a connection
func (a *App) autoStartTunnels(connectionID string, sess *core.Session) {
	tunnels, err := a.tunnelStore.ListForConnection(connectionID)
	if err != nil {
		core.Warn("loading tunnels for %s: %v", connectionID, err)
		return
	}
	for _, tunnel := range tunnels {
		if !tunnel.AutoStart {
			continue
		}
		if err := a.startTunnelRecord(&tunnel, sess); err != nil {
			core.Error("auto-start of %s failed: %v", tunnel.Name, err)
		}
	}
}

// disconnectSelected stops the selected connection's tunnels and closes its
// session
func (a *App) disconnectSelected() {
	conn := a.selectedConnection()
	if conn == nil {
		return
	}

	a.mu.Lock()
	sess, ok := a.sessions[conn.ID]
	delete(a.sessions, conn.ID)
	delete(a.detectedOS, conn.ID)
	a.mu.Unlock()
	if !ok {
		a.updateStatusBar("%s is not connected", conn.Name)
		return
	}

	// Stop this connection's running tunnels before dropping the session.
	tunnels, err := a.tunnelStore.ListForConnection(conn.ID)
	if err == nil {
		for _, tunnel := range tunnels {
			a.stopTunnelRecord(&tunnel, sess)
		}
	}
	if err := sess.Close(); err != nil {
		core.Warn("closing session for %s: %v", conn.Name, err)
	}

	a.updateStatusBar("Disconnected from %s", conn.Name)
	a.reloadData()
}

// toggleSelectedTunnel starts or stops the tunnel under the cursor
func (a *App) toggleSelectedTunnel() {
	tunnel := a.selectedTunnel()
	if tunnel == nil {
		return
	}

	a.mu.Lock()
	activeID, running := a.activeIDs[tunnel.ID]
	sess := a.sessions[tunnel.ConnectionID]
	a.mu.Unlock()

	if running && a.tunnelManager.IsActive(activeID) {
		a.stopTunnelRecord(tunnel, sess)
		a.updateStatusBar("Stopped tunnel %s", tunnel.Name)
		a.reloadData()
		return
	}

	if sess == nil {
		a.showErrorModal("Not Connected",
			fmt.Sprintf("Connect %q before starting its tunnels.", tunnel.ConnectionID))
		return
	}
	if err := a.startTunnelRecord(tunnel, sess); err != nil {
		a.showErrorModal("Tunnel Failed", err.Error())
		return
	}
	a.updateStatusBar("Started tunnel %s", tunnel.Name)
	a.reloadData()
}

// startTunnelRecord starts a saved tunnel over sess and remembers its
// running id
func (a *App) startTunnelRecord(tunnel *store.SavedTunnel, sess *core.Session) error {
	var id string
	var err error
	if tunnel.Type == string(core.TunnelRemote) {
		id, err = a.tunnelManager.StartRemoteForwarding(sess,
			tunnel.EffectiveBindAddress(), tunnel.RemotePort, tunnel.RemoteHost, tunnel.LocalPort)
	} else {
		id, err = a.tunnelManager.StartLocalForwarding(sess,
			tunnel.EffectiveBindAddress(), tunnel.LocalPort, tunnel.RemoteHost, tunnel.RemotePort)
	}
	if err != nil {
		var portErr *core.PortInUseError
		if errors.As(err, &portErr) {
			return fmt.Errorf("%s", portErr.Message)
		}
		return err
	}

	a.mu.Lock()
	a.activeIDs[tunnel.ID] = id
	a.mu.Unlock()

	record := *tunnel
	record.Status = "running"
	if err := a.tunnelStore.Upsert(record); err != nil {
		core.Warn("persisting tunnel status: %v", err)
	}
	return nil
}

// stopTunnelRecord stops a saved tunnel's running forwarding, if any
func (a *App) stopTunnelRecord(tunnel *store.SavedTunnel, sess *core.Session) {
	a.mu.Lock()
	id, ok := a.activeIDs[tunnel.ID]
	delete(a.activeIDs, tunnel.ID)
	a.mu.Unlock()
	if !ok {
		return
	}

	var conn core.SessionConn
	if sess != nil {
		conn = sess
	}
	a.tunnelManager.StopTunnel(conn, id, "")

	record := *tunnel
	record.Status = "stopped"
	if err := a.tunnelStore.Upsert(record); err != nil {
		core.Warn("persisting tunnel status: %v", err)
	}
}

// importSSHConfig imports ~/.ssh/config hosts as connection records
func (a *App) importSSHConfig() {
	path, err := core.DefaultSSHConfigPath()
	if err != nil {
		a.showErrorModal("Import Failed", err.Error())
		return
	}
	parsed, err := core.ParseSSHConfig(path)
	if err != nil {
		a.showErrorModal("Import Failed", err.Error())
		return
	}
	if len(parsed) == 0 {
		a.updateStatusBar("No hosts found in %s", path)
		return
	}

	data, err := a.connStore.Load()
	if err != nil {
		a.showErrorModal("Import Failed", err.Error())
		return
	}
	existing := make(map[string]bool, len(data.Connections))
	for _, c := range data.Connections {
		existing[c.Name] = true
	}

	imported := 0
	for _, p := range parsed {
		if existing[p.Name] {
			continue
		}
		if err := a.connStore.Upsert(store.FromParsedSSHConnection(p)); err != nil {
			core.Error("importing %s: %v", p.Name, err)
			continue
		}
		imported++
	}

	a.updateStatusBar("Imported %d connection(s) from %s", imported, path)
	a.reloadData()
}

// connectErrorMessage maps builder errors to user-facing text
func connectErrorMessage(err error) string {
	var authErr *core.AuthError
	if errors.As(err, &authErr) {
		return fmt.Sprintf("Authentication failed for %s@%s. Check your credentials.", authErr.User, authErr.Host)
	}
	var keyFileErr *core.KeyFileError
	if errors.As(err, &keyFileErr) {
		return fmt.Sprintf("Cannot read private key %s.", keyFileErr.Path)
	}
	var keyDecodeErr *core.KeyDecodeError
	if errors.As(err, &keyDecodeErr) {
		return fmt.Sprintf("Cannot decode private key %s. Wrong passphrase?", keyDecodeErr.Path)
	}
	var jumpErr *core.JumpHostError
	if errors.As(err, &jumpErr) {
		return fmt.Sprintf("Jump host %s failed: %v", jumpErr.Host, jumpErr.Err)
	}
	return err.Error()
}
