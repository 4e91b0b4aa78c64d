package daemon

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/janekbaraniewski/reqwatch/internal/version"
)

func ClassifyEnsureError(err error) DaemonState {
	if err == nil {
		return DaemonState{Status: DaemonStatusRunning}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not installed"):
		return DaemonState{
			Status:      DaemonStatusNotInstalled,
			Message:     "Daemon service is not installed.",
			InstallHint: "reqwatch service install",
		}
	case strings.Contains(msg, "out of date"):
		return DaemonState{
			Status:  DaemonStatusOutdated,
			Message: msg,
		}
	case strings.Contains(msg, "unsupported on"):
		return DaemonState{
			Status:  DaemonStatusError,
			Message: msg,
		}
	default:
		return DaemonState{
			Status:  DaemonStatusError,
			Message: msg,
		}
	}
}

// EnsureRunning makes sure a healthy, current daemon answers on the
// socket, starting or reinstalling the managed service when it is not.
func EnsureRunning(ctx context.Context, socketPath string, verbose bool) (*Client, error) {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return nil, fmt.Errorf("daemon socket path is empty")
	}
	client := NewClient(socketPath)

	health, healthErr := WaitForHealthInfo(ctx, client, 1200*time.Millisecond)
	if healthErr == nil && HealthCurrent(health) {
		return client, nil
	}

	needsUpgrade := healthErr == nil

	manager, err := NewServiceManager(socketPath)
	if err != nil {
		return nil, err
	}
	if !manager.IsSupported() {
		if needsUpgrade {
			return nil, fmt.Errorf(
				"tracker daemon is out of date (running=%s expected=%s) and auto-upgrade is unsupported on %s",
				HealthVersion(health), strings.TrimSpace(version.Version), runtime.GOOS,
			)
		}
		return nil, fmt.Errorf("tracker daemon is not running at %s and auto-start is unsupported on %s; run `reqwatch daemon` directly", socketPath, runtime.GOOS)
	}

	if needsUpgrade {
		if err := manager.Install(); err != nil {
			return nil, fmt.Errorf("upgrade tracker daemon service: %w", err)
		}
	}
	if !manager.IsInstalled() {
		return nil, fmt.Errorf("tracker daemon service is not installed; run `%s`", manager.InstallHint())
	}
	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("start tracker daemon service: %w", err)
	}
	if err := waitAndVerifyDaemon(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

func waitAndVerifyDaemon(ctx context.Context, client *Client) error {
	if err := WaitForHealth(ctx, client, 25*time.Second); err != nil {
		return err
	}
	health, err := WaitForHealthInfo(ctx, client, 1500*time.Millisecond)
	if err != nil {
		return nil
	}
	if !HealthCurrent(health) {
		return fmt.Errorf(
			"tracker daemon is out of date (running=%s expected=%s)",
			HealthVersion(health), strings.TrimSpace(version.Version),
		)
	}
	return nil
}

func HealthVersion(health HealthResponse) string {
	if v := strings.TrimSpace(health.DaemonVersion); v != "" {
		return v
	}
	return "unknown"
}

func HealthCurrent(health HealthResponse) bool {
	expected := strings.TrimSpace(version.Version)
	if expected == "" || strings.EqualFold(expected, "dev") || !IsReleaseSemver(expected) {
		return HealthAPICompatible(health)
	}
	return strings.TrimSpace(health.DaemonVersion) == expected && HealthAPICompatible(health)
}

func HealthAPICompatible(health HealthResponse) bool {
	apiVersion := strings.TrimSpace(health.APIVersion)
	return apiVersion == "" || apiVersion == APIVersion
}

func IsReleaseSemver(value string) bool {
	v := strings.TrimSpace(value)
	if !semver.IsValid(v) {
		return false
	}
	if semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return false
	}
	return v == semver.Canonical(v)
}

func WaitForHealth(ctx context.Context, client *Client, timeout time.Duration) error {
	_, err := WaitForHealthInfo(ctx, client, timeout)
	return err
}

func WaitForHealthInfo(
	ctx context.Context,
	client *Client,
	timeout time.Duration,
) (HealthResponse, error) {
	if client == nil {
		return HealthResponse{}, fmt.Errorf("daemon client is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if pingCtx.Err() != nil {
			break
		}
		hc, hcCancel := context.WithTimeout(pingCtx, 700*time.Millisecond)
		health, err := client.HealthInfo(hc)
		hcCancel()
		if err == nil {
			return health, nil
		}
		lastErr = err
		time.Sleep(220 * time.Millisecond)
	}
	if pingCtx.Err() != nil && pingCtx.Err() != context.Canceled {
		return HealthResponse{}, pingCtx.Err()
	}
	if lastErr != nil {
		return HealthResponse{}, fmt.Errorf("tracker daemon did not become ready at %s: %w", client.SocketPath, lastErr)
	}
	return HealthResponse{}, fmt.Errorf("tracker daemon did not become ready at %s", client.SocketPath)
}
