// Package tui modal dialogs.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rivo/tview"

	"github.com/hollowc/passage/internal/core"
	"github.com/hollowc/passage/internal/store"
)

// showModal centers p on top of the main page
func (a *App) showModal(name string, p tview.Primitive, width, height int) {
	grid := tview.NewGrid().
		SetColumns(0, width, 0).
		SetRows(0, height, 0).
		AddItem(p, 1, 1, 1, 1, 0, 0, true)
	a.pages.AddPage(name, grid, true, true)
	a.app.SetFocus(p)
}

// closeModal removes a modal page and restores focus
func (a *App) closeModal(name string) {
	a.pages.RemovePage(name)
	a.app.SetFocus(a.connTable)
}

// showErrorModal displays an error with a single dismiss button
func (a *App) showErrorModal(title, message string) {
	modal := tview.NewModal().
		SetText(fmt.Sprintf("[red::b]%s[-:-:-]\n\n%s", title, message)).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			a.closeModal("error")
		})
	a.pages.AddPage("error", modal, true, true)
}

// confirmQuit asks before leaving; live sessions die with the process
func (a *App) confirmQuit() {
	count := 0
	a.mu.Lock()
	count = len(a.sessions)
	a.mu.Unlock()

	text := "Quit passage?"
	if count > 0 {
		text = fmt.Sprintf("Quit passage?\n\n%d live session(s) and their tunnels will be closed.", count)
	}
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"Quit", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			if label == "Quit" {
				a.app.Stop()
				return
			}
			a.closeModal("confirm")
		})
	a.pages.AddPage("confirm", modal, true, true)
}

// confirmDeleteConnection deletes the selected connection after confirmation
func (a *App) confirmDeleteConnection() {
	conn := a.selectedConnection()
	if conn == nil {
		return
	}
	a.mu.Lock()
	_, connected := a.sessions[conn.ID]
	a.mu.Unlock()
	if connected {
		a.showErrorModal("Connection Busy", "Disconnect before deleting this connection.")
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete connection %q?\n\nThis cannot be undone.", conn.Name)).
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			if label == "Delete" {
				if err := a.connStore.Delete(conn.ID); err != nil {
					a.updateStatusBar("[red]Delete failed: %v", err)
				} else {
					a.updateStatusBar("Deleted connection %s", conn.Name)
				}
				a.reloadData()
			}
			a.closeModal("confirm")
		})
	a.pages.AddPage("confirm", modal, true, true)
}

// confirmDeleteTunnel deletes the selected tunnel after confirmation
func (a *App) confirmDeleteTunnel() {
	tunnel := a.selectedTunnel()
	if tunnel == nil {
		return
	}
	a.mu.Lock()
	_, running := a.activeIDs[tunnel.ID]
	a.mu.Unlock()
	if running {
		a.showErrorModal("Tunnel Busy", "Stop this tunnel before deleting it.")
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete tunnel %q?", tunnel.Name)).
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			if label == "Delete" {
				if err := a.tunnelStore.Delete(tunnel.ID); err != nil {
					a.updateStatusBar("[red]Delete failed: %v", err)
				} else {
					a.updateStatusBar("Deleted tunnel %s", tunnel.Name)
				}
				a.reloadData()
			}
			a.closeModal("confirm")
		})
	a.pages.AddPage("confirm", modal, true, true)
}

// showAddConnectionForm collects a new connection record
func (a *App) showAddConnectionForm() {
	form := tview.NewForm()
	form.AddInputField("Name", "", 30, nil, nil).
		AddInputField("Host", "", 30, nil, nil).
		AddInputField("Port", "22", 6, nil, nil).
		AddInputField("Username", "", 30, nil, nil).
		AddPasswordField("Password", "", 30, '*', nil).
		AddInputField("Private key path", "", 40, nil, nil).
		AddPasswordField("Key passphrase", "", 30, '*', nil).
		AddInputField("Jump server id", "", 40, nil, nil)

	form.AddButton("Save", func() {
		port, err := strconv.ParseUint(form.GetFormItemByLabel("Port").(*tview.InputField).GetText(), 10, 16)
		if err != nil {
			a.showErrorModal("Invalid Port", "Port must be a number between 1 and 65535.")
			return
		}
		conn := store.SavedConnection{
			ID:             store.NewConnectionID(),
			Name:           form.GetFormItemByLabel("Name").(*tview.InputField).GetText(),
			Host:           form.GetFormItemByLabel("Host").(*tview.InputField).GetText(),
			Port:           uint16(port),
			Username:       form.GetFormItemByLabel("Username").(*tview.InputField).GetText(),
			Password:       form.GetFormItemByLabel("Password").(*tview.InputField).GetText(),
			PrivateKeyPath: form.GetFormItemByLabel("Private key path").(*tview.InputField).GetText(),
			Passphrase:     form.GetFormItemByLabel("Key passphrase").(*tview.InputField).GetText(),
			JumpServerID:   form.GetFormItemByLabel("Jump server id").(*tview.InputField).GetText(),
		}
		if conn.Name == "" || conn.Host == "" || conn.Username == "" {
			a.showErrorModal("Incomplete", "Name, host and username are required.")
			return
		}
		if err := a.connStore.Upsert(conn); err != nil {
			a.showErrorModal("Save Failed", err.Error())
			return
		}
		a.closeModal("add-conn")
		a.updateStatusBar("Added connection %s", conn.Name)
		a.reloadData()
	})
	form.AddButton("Cancel", func() {
		a.closeModal("add-conn")
	})
	form.SetBorder(true).SetTitle(" New Connection ")

	a.showModal("add-conn", form, 60, 21)
}

// showAddTunnelForm collects a new tunnel record for the selected connection
func (a *App) showAddTunnelForm() {
	conn := a.selectedConnection()
	if conn == nil {
		a.showErrorModal("No Connection", "Select the connection this tunnel belongs to first.")
		return
	}

	form := tview.NewForm()
	form.AddInputField("Name", "", 30, nil, nil).
		AddDropDown("Type", []string{string(core.TunnelLocal), string(core.TunnelRemote)}, 0, nil).
		AddInputField("Local port", "", 6, nil, nil).
		AddInputField("Remote host", "127.0.0.1", 30, nil, nil).
		AddInputField("Remote port", "", 6, nil, nil).
		AddInputField("Bind address", "", 30, nil, nil).
		AddCheckbox("Auto start", false, nil)

	form.AddButton("Save", func() {
		localPort, err1 := strconv.ParseUint(form.GetFormItemByLabel("Local port").(*tview.InputField).GetText(), 10, 16)
		remotePort, err2 := strconv.ParseUint(form.GetFormItemByLabel("Remote port").(*tview.InputField).GetText(), 10, 16)
		if err1 != nil || err2 != nil {
			a.showErrorModal("Invalid Ports", "Ports must be numbers between 1 and 65535.")
			return
		}
		_, tunnelType := form.GetFormItemByLabel("Type").(*tview.DropDown).GetCurrentOption()
		tunnel := store.SavedTunnel{
			ID:           store.NewTunnelID(),
			ConnectionID: conn.ID,
			Name:         form.GetFormItemByLabel("Name").(*tview.InputField).GetText(),
			Type:         tunnelType,
			LocalPort:    uint16(localPort),
			RemoteHost:   form.GetFormItemByLabel("Remote host").(*tview.InputField).GetText(),
			RemotePort:   uint16(remotePort),
			BindAddress:  form.GetFormItemByLabel("Bind address").(*tview.InputField).GetText(),
			AutoStart:    form.GetFormItemByLabel("Auto start").(*tview.Checkbox).IsChecked(),
		}
		if tunnel.Name == "" {
			tunnel.Name = fmt.Sprintf("%s %d→%s:%d", tunnelType, tunnel.LocalPort, tunnel.RemoteHost, tunnel.RemotePort)
		}
		if err := a.tunnelStore.Upsert(tunnel); err != nil {
			a.showErrorModal("Save Failed", err.Error())
			return
		}
		a.closeModal("add-tunnel")
		a.updateStatusBar("Added tunnel %s", tunnel.Name)
		a.reloadData()
	})
	form.AddButton("Cancel", func() {
		a.closeModal("add-tunnel")
	})
	form.SetBorder(true).SetTitle(fmt.Sprintf(" New Tunnel for %s ", conn.Name))

	a.showModal("add-tunnel", form, 60, 19)
}

// showPasteCommandForm extracts tunnels from a pasted ssh command line
func (a *App) showPasteCommandForm() {
	conn := a.selectedConnection()
	if conn == nil {
		a.showErrorModal("No Connection", "Select the connection the tunnels belong to first.")
		return
	}

	form := tview.NewForm()
	form.AddTextArea("Command", "", 56, 5, 0, nil)
	form.AddButton("Import", func() {
		command := form.GetFormItemByLabel("Command").(*tview.TextArea).GetText()
		result := core.ParseSSHCommand(command)
		if !result.Success {
			a.showErrorModal("Parse Failed", strings.Join(result.Errors, "\n"))
			return
		}
		for _, parsed := range result.Tunnels {
			tunnel := store.SavedTunnel{
				ID:           store.NewTunnelID(),
				ConnectionID: conn.ID,
				Name:         parsed.Name,
				Type:         parsed.Type,
				LocalPort:    parsed.LocalPort,
				RemoteHost:   parsed.RemoteHost,
				RemotePort:   parsed.RemotePort,
			}
			if err := a.tunnelStore.Upsert(tunnel); err != nil {
				a.showErrorModal("Save Failed", err.Error())
				return
			}
		}
		a.closeModal("paste-command")
		a.updateStatusBar("Imported %d tunnel(s) from command", len(result.Tunnels))
		a.reloadData()
	})
	form.AddButton("Cancel", func() {
		a.closeModal("paste-command")
	})
	form.SetBorder(true).SetTitle(fmt.Sprintf(" Paste SSH Command for %s ", conn.Name))

	a.showModal("paste-command", form, 62, 13)
}
