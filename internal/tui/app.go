// Package tui provides the terminal user interface for passage.
package tui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/sync/errgroup"

	"github.com/hollowc/passage/internal/core"
	"github.com/hollowc/passage/internal/store"
)

// App represents the TUI application
type App struct {
	app           *tview.Application
	builder       *core.Builder
	tunnelManager *core.TunnelManager
	connStore     *store.ConnectionStore
	tunnelStore   *store.TunnelStore
	snippetStore  *store.SnippetStore

	// UI components
	pages       *tview.Pages
	headerBar   *tview.TextView
	connTable   *tview.Table
	tunnelTable *tview.Table
	statusBar   *tview.TextView
	footerBar   *tview.TextView

	// State
	mu          sync.Mutex
	sessions    map[string]*core.Session // connection id -> live session
	detectedOS  map[string]string        // connection id -> probed OS
	activeIDs   map[string]string        // tunnel record id -> running tunnel id
	connections []store.SavedConnection
	tunnels     []store.SavedTunnel
}

// NewApp creates a new TUI application
func NewApp(builder *core.Builder, tunnelManager *core.TunnelManager, connStore *store.ConnectionStore, tunnelStore *store.TunnelStore, snippetStore *store.SnippetStore) *App {
	return &App{
		app:           tview.NewApplication(),
		builder:       builder,
		tunnelManager: tunnelManager,
		connStore:     connStore,
		tunnelStore:   tunnelStore,
		snippetStore:  snippetStore,
		sessions:      make(map[string]*core.Session),
		detectedOS:    make(map[string]string),
		activeIDs:     make(map[string]string),
	}
}

// Run starts the TUI application
func (a *App) Run() error {
	a.initUI()
	a.reloadData()
	return a.app.Run()
}

// Stop stops the TUI application without touching live tunnels
func (a *App) Stop() {
	a.app.Stop()
}

// Shutdown stops all tunnels and closes every live session
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	sessions := make([]*core.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*core.Session)
	a.activeIDs = make(map[string]string)
	a.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		g.Go(func() error {
			a.tunnelManager.StopAll(sess)
			return sess.Close()
		})
	}
	return g.Wait()
}

// initUI initializes the user interface
func (a *App) initUI() {
	a.createHeaderBar()
	a.createConnTable()
	a.createTunnelTable()
	a.createStatusBar()
	a.createFooterBar()

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.headerBar, 3, 0, false).
		AddItem(a.createMainContent(), 0, 1, true).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.footerBar, 2, 0, false)

	a.pages = tview.NewPages().
		AddPage("main", mainFlex, true, true)

	a.app.SetRoot(a.pages, true).
		SetFocus(a.connTable).
		SetInputCapture(a.handleGlobalKeys)
}

// createMainContent splits the view between connections and tunnels
func (a *App) createMainContent() *tview.Flex {
	return tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.connTable, 0, 1, true).
		AddItem(a.tunnelTable, 0, 2, false)
}

// createHeaderBar creates the top title bar
func (a *App) createHeaderBar() {
	a.headerBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[::b]passage[::-] — SSH sessions and tunnels")
	a.headerBar.SetBorder(true)
}

// createConnTable creates the connections panel
func (a *App) createConnTable() {
	a.connTable = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.connTable.SetBorder(true).SetTitle(" Connections ")
	a.connTable.SetSelectedFunc(func(row, col int) {
		a.connectSelected()
	})
	a.connTable.SetInputCapture(a.handleConnKeys)
}

// createTunnelTable creates the tunnels panel
func (a *App) createTunnelTable() {
	a.tunnelTable = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.tunnelTable.SetBorder(true).SetTitle(" Tunnels ")
	a.tunnelTable.SetSelectedFunc(func(row, col int) {
		a.toggleSelectedTunnel()
	})
	a.tunnelTable.SetInputCapture(a.handleTunnelKeys)
}

// createStatusBar creates the one-line status display
func (a *App) createStatusBar() {
	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.updateStatusBar("Ready")
}

// createFooterBar creates the key hint bar
func (a *App) createFooterBar() {
	a.footerBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[yellow]Enter[-] connect/toggle  [yellow]d[-] disconnect  [yellow]n[-] new conn  [yellow]a[-] add tunnel  [yellow]p[-] paste command  [yellow]i[-] import ssh config  [yellow]r[-] snippets  [yellow]x[-] delete  [yellow]Tab[-] switch pane  [yellow]q[-] quit")
}

// updateStatusBar replaces the status line
func (a *App) updateStatusBar(format string, args ...interface{}) {
	a.statusBar.SetText(fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), fmt.Sprintf(format, args...)))
}

// reloadData reloads both stores and redraws the tables
func (a *App) reloadData() {
	data, err := a.connStore.Load()
	if err != nil {
		a.updateStatusBar("[red]Failed to load connections: %v", err)
		return
	}
	tunnels, err := a.tunnelStore.List()
	if err != nil {
		a.updateStatusBar("[red]Failed to load tunnels: %v", err)
		return
	}

	a.mu.Lock()
	a.connections = data.Connections
	a.tunnels = tunnels
	a.mu.Unlock()

	a.updateConnTable()
	a.updateTunnelTable()
}

// updateConnTable redraws the connections panel
func (a *App) updateConnTable() {
	a.connTable.Clear()
	headers := []string{"Name", "Host", "User", "Status"}
	for col, h := range headers {
		a.connTable.SetCell(0, col, tview.NewTableCell("[::b]"+h).
			SetSelectable(false))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, conn := range a.connections {
		status := "[gray]offline"
		if sess, ok := a.sessions[conn.ID]; ok && sess.State() == core.StateActive {
			status = "[green]connected"
			if os := a.detectedOS[conn.ID]; os != "" {
				status += " [gray](" + os + ")"
			}
		}
		a.connTable.SetCell(i+1, 0, tview.NewTableCell(conn.Name))
		a.connTable.SetCell(i+1, 1, tview.NewTableCell(fmt.Sprintf("%s:%d", conn.Host, conn.Port)))
		a.connTable.SetCell(i+1, 2, tview.NewTableCell(conn.Username))
		a.connTable.SetCell(i+1, 3, tview.NewTableCell(status))
	}
}

// updateTunnelTable redraws the tunnels panel
func (a *App) updateTunnelTable() {
	a.tunnelTable.Clear()
	headers := []string{"Name", "Type", "Forward", "Status"}
	for col, h := range headers {
		a.tunnelTable.SetCell(0, col, tview.NewTableCell("[::b]"+h).
			SetSelectable(false))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, tunnel := range a.tunnels {
		var forward string
		if tunnel.Type == string(core.TunnelRemote) {
			forward = fmt.Sprintf("%d ← %s:%d", tunnel.RemotePort, tunnel.RemoteHost, tunnel.LocalPort)
		} else {
			forward = fmt.Sprintf("%d → %s:%d", tunnel.LocalPort, tunnel.RemoteHost, tunnel.RemotePort)
		}
		status := "[gray]stopped"
		if id, ok := a.activeIDs[tunnel.ID]; ok && a.tunnelManager.IsActive(id) {
			status = "[green]running"
		}
		a.tunnelTable.SetCell(i+1, 0, tview.NewTableCell(tunnel.Name))
		a.tunnelTable.SetCell(i+1, 1, tview.NewTableCell(tunnel.Type))
		a.tunnelTable.SetCell(i+1, 2, tview.NewTableCell(forward))
		a.tunnelTable.SetCell(i+1, 3, tview.NewTableCell(status))
	}
}

// selectedConnection returns the connection under the cursor
func (a *App) selectedConnection() *store.SavedConnection {
	row, _ := a.connTable.GetSelection()
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 1 || row > len(a.connections) {
		return nil
	}
	conn := a.connections[row-1]
	return &conn
}

// selectedTunnel returns the tunnel under the cursor
func (a *App) selectedTunnel() *store.SavedTunnel {
	row, _ := a.tunnelTable.GetSelection()
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 1 || row > len(a.tunnels) {
		return nil
	}
	tunnel := a.tunnels[row-1]
	return &tunnel
}

// handleGlobalKeys handles application-wide shortcuts
func (a *App) handleGlobalKeys(event *tcell.EventKey) *tcell.EventKey {
	// Modal pages take full control of input.
	for _, page := range []string{"add-conn", "add-tunnel", "paste-command", "snippets", "snippet-output", "confirm", "error"} {
		if a.pages.HasPage(page) {
			return event
		}
	}

	switch event.Key() {
	case tcell.KeyCtrlC:
		a.confirmQuit()
		return nil
	case tcell.KeyTab:
		if a.app.GetFocus() == a.connTable {
			a.app.SetFocus(a.tunnelTable)
		} else {
			a.app.SetFocus(a.connTable)
		}
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			a.confirmQuit()
			return nil
		case 'n':
			a.showAddConnectionForm()
			return nil
		case 'a':
			a.showAddTunnelForm()
			return nil
		case 'p':
			a.showPasteCommandForm()
			return nil
		case 'i':
			a.importSSHConfig()
			return nil
		case 'r':
			a.showSnippetsModal()
			return nil
		}
	}
	return event
}
