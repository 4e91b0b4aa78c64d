// Package appupdate checks the GitHub releases feed for a newer reqwatch
// build and suggests the upgrade command for the install channel the
// running binary came from.
package appupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// releaseAPIBase is swapped in tests.
var releaseAPIBase = "https://api.github.com"

const (
	releasePath      = "/repos/janekbaraniewski/reqwatch/releases/latest"
	installScriptURL = "https://github.com/janekbaraniewski/reqwatch/releases/latest/download/install.sh"
	requestTimeout   = 1500 * time.Millisecond
)

// Channel is the install channel inferred from where the binary lives.
// reqwatch ships through homebrew, go install and the install script.
type Channel string

const (
	ChannelUnknown   Channel = "unknown"
	ChannelHomebrew  Channel = "homebrew"
	ChannelGoInstall Channel = "go_install"
	ChannelScript    Channel = "install_script"
)

type Result struct {
	UpdateAvailable bool
	CurrentVersion  string
	LatestVersion   string
	Channel         Channel
	UpgradeHint     string
}

type Checker struct {
	client  *http.Client
	exePath func() (string, error)
}

func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Checker{client: client, exePath: os.Executable}
}

// Check compares the running version against the latest stable release.
// Development builds (anything that is not a stable semver) skip the
// network round trip and report no update.
func (c *Checker) Check(ctx context.Context, currentVersion string) (Result, error) {
	current := stableVersion(currentVersion)
	channel := c.detectChannel()

	res := Result{
		CurrentVersion: current,
		Channel:        channel,
		UpgradeHint:    upgradeHint(channel),
	}
	if current == "" {
		return res, nil
	}

	latest, err := c.fetchLatest(ctx, current)
	if err != nil {
		return res, err
	}
	res.LatestVersion = latest
	res.UpdateAvailable = semver.Compare(latest, current) > 0
	return res, nil
}

func (c *Checker) fetchLatest(ctx context.Context, currentVersion string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, releaseAPIBase+releasePath, nil)
	if err != nil {
		return "", fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "reqwatch/"+currentVersion)
	if token := strings.TrimSpace(os.Getenv("REQWATCH_GITHUB_TOKEN")); token != "" && strings.HasPrefix(releaseAPIBase, "https://api.github.com") {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch latest release: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode release payload: %w", err)
	}

	latest := stableVersion(payload.TagName)
	if latest == "" {
		return "", fmt.Errorf("latest release tag %q is not a stable semver", payload.TagName)
	}
	return latest, nil
}

func (c *Checker) detectChannel() Channel {
	exe, err := c.exePath()
	if err != nil {
		return ChannelUnknown
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil && resolved != "" {
		exe = resolved
	}
	return channelForPath(exe)
}

func channelForPath(path string) Channel {
	path = strings.ToLower(filepath.ToSlash(filepath.Clean(strings.TrimSpace(path))))
	if path == "" || path == "." {
		return ChannelUnknown
	}

	switch {
	case strings.Contains(path, "/cellar/reqwatch/"), strings.Contains(path, "/homebrew/bin/reqwatch"):
		return ChannelHomebrew
	case isGoBinPath(path):
		return ChannelGoInstall
	case isScriptInstallPath(path):
		return ChannelScript
	default:
		return ChannelUnknown
	}
}

func isGoBinPath(path string) bool {
	if strings.HasSuffix(path, "/go/bin/reqwatch") {
		return true
	}
	candidates := []string{os.Getenv("GOBIN")}
	for _, gp := range filepath.SplitList(os.Getenv("GOPATH")) {
		if gp != "" {
			candidates = append(candidates, filepath.Join(gp, "bin"))
		}
	}
	for _, dir := range candidates {
		dir = strings.ToLower(filepath.ToSlash(filepath.Clean(strings.TrimSpace(dir))))
		if dir != "" && dir != "." && path == dir+"/reqwatch" {
			return true
		}
	}
	return false
}

func isScriptInstallPath(path string) bool {
	if path == "/usr/local/bin/reqwatch" || path == "/usr/bin/reqwatch" {
		return true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	homePath := strings.ToLower(filepath.ToSlash(filepath.Clean(home)))
	return path == homePath+"/.local/bin/reqwatch" || path == homePath+"/bin/reqwatch"
}

func upgradeHint(ch Channel) string {
	switch ch {
	case ChannelHomebrew:
		return "brew upgrade janekbaraniewski/tap/reqwatch"
	case ChannelGoInstall:
		return "go install github.com/janekbaraniewski/reqwatch/cmd/reqwatch@latest"
	default:
		return "curl -fsSL " + installScriptURL + " | bash"
	}
}

// stableVersion canonicalizes a release tag, rejecting anything that is
// not a plain stable semver (pre-release and build metadata included).
func stableVersion(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) || semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return ""
	}
	return semver.Canonical(v)
}
