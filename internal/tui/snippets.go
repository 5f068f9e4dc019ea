// Package tui snippet browser and runner.
package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/hollowc/passage/internal/core"
	"github.com/hollowc/passage/internal/store"
)

// showSnippetsModal lists snippets usable on the selected connection and
// runs the chosen one over its live session
func (a *App) showSnippetsModal() {
	conn := a.selectedConnection()
	if conn == nil {
		a.showErrorModal("No Connection", "Select a connection to run snippets on.")
		return
	}

	a.mu.Lock()
	sess := a.sessions[conn.ID]
	a.mu.Unlock()
	if sess == nil {
		a.showErrorModal("Not Connected", fmt.Sprintf("Connect %q before running snippets.", conn.Name))
		return
	}

	all, err := a.snippetStore.List()
	if err != nil {
		a.showErrorModal("Snippets", err.Error())
		return
	}
	// Global snippets plus the ones scoped to this connection.
	var snippets []store.Snippet
	for _, s := range all {
		if s.ConnectionID == "" || s.ConnectionID == conn.ID {
			snippets = append(snippets, s)
		}
	}
	if len(snippets) == 0 {
		a.updateStatusBar("No snippets saved for %s", conn.Name)
		return
	}

	list := tview.NewList()
	for _, snippet := range snippets {
		list.AddItem(snippet.Name, snippet.Command, 0, nil)
	}
	list.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		snippet := snippets[index]
		a.closeModal("snippets")
		a.runSnippet(conn, sess, snippet)
	})
	list.SetDoneFunc(func() {
		a.closeModal("snippets")
	})
	list.SetBorder(true).SetTitle(fmt.Sprintf(" Snippets — %s ", conn.Name))

	a.showModal("snippets", list, 60, 16)
}

// runSnippet executes a snippet over the session and shows its output
func (a *App) runSnippet(conn *store.SavedConnection, sess *core.Session, snippet store.Snippet) {
	a.updateStatusBar("Running %s on %s...", snippet.Name, conn.Name)
	go func() {
		out, err := sess.RunCommand(snippet.Command)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.showErrorModal("Snippet Failed", fmt.Sprintf("%s: %v", snippet.Name, err))
				return
			}
			text := strings.TrimSpace(out)
			if text == "" {
				text = "(no output)"
			}
			view := tview.NewTextView().
				SetScrollable(true).
				SetText(text)
			view.SetDoneFunc(func(_ tcell.Key) {
				a.closeModal("snippet-output")
			})
			view.SetBorder(true).SetTitle(fmt.Sprintf(" %s @ %s ", snippet.Name, conn.Name))
			a.showModal("snippet-output", view, 70, 20)
			a.updateStatusBar("Ran %s on %s", snippet.Name, conn.Name)
		})
	}()
}
