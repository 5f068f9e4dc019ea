// Package main provides the entry point for the passage SSH client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hollowc/passage/internal/core"
	"github.com/hollowc/passage/internal/store"
	"github.com/hollowc/passage/internal/tui"
)

// version information, set at build time
var (
	version = "1.0.0"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		debug       = flag.Bool("debug", false, "Enable debug mode (verbose logging)")
		importPath  = flag.String("import", "", "Import connections from an SSH config file and exit (\"-\" for ~/.ssh/config)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("passage %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	core.InitLogger(*debug)

	connStore, err := store.NewConnectionStore()
	if err != nil {
		core.Error("Failed to initialize connection store: %v", err)
		os.Exit(1)
	}
	tunnelStore, err := store.NewTunnelStore()
	if err != nil {
		core.Error("Failed to initialize tunnel store: %v", err)
		os.Exit(1)
	}
	snippetStore, err := store.NewSnippetStore()
	if err != nil {
		core.Error("Failed to initialize snippet store: %v", err)
		os.Exit(1)
	}

	if *importPath != "" {
		if err := runImport(connStore, *importPath); err != nil {
			core.Error("Import failed: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	tunnelManager := core.NewTunnelManager()
	builder := core.NewBuilder(tunnelManager)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app := tui.NewApp(builder, tunnelManager, connStore, tunnelStore, snippetStore)

	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run()
	}()

	select {
	case err := <-appErr:
		if err != nil {
			core.Error("Application error: %v", err)
		}
	case sig := <-sigChan:
		core.Info("Received signal: %v", sig)
		app.Stop()
	}

	// Listeners and sessions do not survive the process; close them
	// explicitly so remote forwards are cancelled server-side.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		core.Warn("Shutdown: %v", err)
	}
	core.Info("passage exiting")
}

// runImport loads SSH config hosts into the connection store
func runImport(connStore *store.ConnectionStore, path string) error {
	if path == "-" {
		var err error
		path, err = core.DefaultSSHConfigPath()
		if err != nil {
			return err
		}
	}
	parsed, err := core.ParseSSHConfig(path)
	if err != nil {
		return err
	}

	data, err := connStore.Load()
	if err != nil {
		return err
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
		if err := connStore.Upsert(store.FromParsedSSHConnection(p)); err != nil {
			return err
		}
		imported++
	}
	fmt.Printf("Imported %d connection(s) from %s\n", imported, path)
	return nil
}
