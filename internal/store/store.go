// Package store provides JSON file persistence for connections, tunnels
// and snippets using the XDG Base Directory Specification.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "passage"

// DataDir returns the directory all passage data files live in, creating it
// if necessary
func DataDir() (string, error) {
	var dir string

	switch runtime.GOOS {
	case "windows":
		// Windows: Use %AppData%
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = os.Getenv("USERPROFILE")
			if appData == "" {
				return "", fmt.Errorf("cannot determine Windows config directory")
			}
			appData = filepath.Join(appData, "AppData", "Roaming")
		}
		dir = filepath.Join(appData, appDirName)

	default:
		// Unix-like (Linux, macOS, BSD): Use XDG_CONFIG_HOME
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			xdgConfigHome = filepath.Join(homeDir, ".config")
		}
		dir = filepath.Join(xdgConfigHome, appDirName)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// readJSON loads path into v. A missing file leaves v untouched and
// returns false.
func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// writeJSON marshals v and writes it to path atomically via a temporary
// file and rename
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tempFile, err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// backupFile copies path to path.backup when it exists
func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s for backup: %w", path, err)
	}
	if err := os.WriteFile(path+".backup", data, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}
