package daemon

import (
	"errors"
	"os"
	"path/filepath"
)

const APIVersion = "v1"

var errDaemonUnavailable = errors.New("tracker daemon unavailable")

type Config struct {
	SocketPath string
	DBPath     string
	ConfigPath string
	Verbose    bool
}

type HealthResponse struct {
	Status        string `json:"status"`
	DaemonVersion string `json:"daemon_version,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
}

type StatusResponse struct {
	SessionState    string `json:"session_state"`
	HasData         bool   `json:"has_data"`
	LastFetchedAt   string `json:"last_fetched_at,omitempty"`
	IntervalSeconds int    `json:"interval_seconds"`
	PeriodDays      int    `json:"period_days"`
}

type RefreshResponse struct {
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
}

type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type DaemonStatus int

const (
	DaemonStatusUnknown      DaemonStatus = iota
	DaemonStatusConnecting                // attempting to reach daemon
	DaemonStatusNotInstalled              // service not installed
	DaemonStatusStarting                  // service installed, waiting for health
	DaemonStatusRunning                   // healthy and current
	DaemonStatusOutdated                  // healthy but wrong version
	DaemonStatusError                     // unrecoverable error
)

type DaemonState struct {
	Status      DaemonStatus
	Message     string
	InstallHint string
}

// DefaultStateDir is where the daemon keeps its socket and service logs.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "reqwatch"), nil
}

func DefaultSocketPath() (string, error) {
	dir, err := DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "reqwatch.sock"), nil
}
