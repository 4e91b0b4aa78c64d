package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionCookie is a persisted authentication cookie for the billing host.
type SessionCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure"`
}

// cookieMu guards read-modify-write cycles on the cookie file.
var cookieMu sync.Mutex

func CookiesPath() string {
	return filepath.Join(ConfigDir(), "cookies.json")
}

func LoadCookies() ([]SessionCookie, error) {
	return LoadCookiesFrom(CookiesPath())
}

func LoadCookiesFrom(path string) ([]SessionCookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	var cookies []SessionCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("parsing cookies %s: %w", path, err)
	}
	return cookies, nil
}

// SaveCookies replaces the cookie file wholesale. Mode 0600: these are
// live session credentials.
func SaveCookies(cookies []SessionCookie) error {
	return SaveCookiesTo(CookiesPath(), cookies)
}

func SaveCookiesTo(path string, cookies []SessionCookie) error {
	cookieMu.Lock()
	defer cookieMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating cookie dir: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cookies: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing cookies: %w", err)
	}
	return nil
}

// ClearCookies removes the persisted cookie file. Missing file is fine.
func ClearCookies() error {
	return ClearCookiesAt(CookiesPath())
}

func ClearCookiesAt(path string) error {
	cookieMu.Lock()
	defer cookieMu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cookies: %w", err)
	}
	return nil
}
