// Default paths and limits for coagent
// Centralized management of constants and default values

package config

import (
	"os"
	"path/filepath"
)

// ===== Paths =====

// DefaultDataDir returns the default data directory
func DefaultDataDir() string {
	if d := os.Getenv("COAGENT_DATA_DIR"); d != "" {
		return d
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".coagent")
	}
	return filepath.Join(os.TempDir(), "coagent")
}

// DefaultWorkspaceDir returns the workspace directory tools are jailed to
func DefaultWorkspaceDir() string {
	if d := os.Getenv("COAGENT_WORKSPACE"); d != "" {
		return d
	}
	return filepath.Join(DefaultDataDir(), "workspace")
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	if d := os.Getenv("COAGENT_DB_PATH"); d != "" {
		return d
	}
	return filepath.Join(DefaultDataDir(), "coagent.db")
}

// DefaultKVDir returns the default KV cache directory
func DefaultKVDir() string {
	return filepath.Join(DefaultDataDir(), "kv")
}

// DefaultBackupDir returns the default backup directory
func DefaultBackupDir() string {
	return filepath.Join(DefaultDataDir(), "backups")
}

// ===== Token/Context =====

const (
	DefaultContextTokens = 8192
	DefaultReserveTokens = 1024
)

// ===== Limits =====

const (
	// MaxToolOutputChars caps one tool result in conversation context
	MaxToolOutputChars = 8000
)
