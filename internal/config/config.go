package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// TrackerConfig tunes the refresh/prediction pipeline.
type TrackerConfig struct {
	RefreshIntervalSeconds int     `json:"refresh_interval_seconds"`
	PredictionPeriodDays   int     `json:"prediction_period_days"`
	Entitlement            int     `json:"entitlement"`
	CostPerRequestUSD      float64 `json:"cost_per_request_usd"`
}

// BrowserConfig controls the authenticated browsing context.
type BrowserConfig struct {
	Headless    bool   `json:"headless"`
	ExecPath    string `json:"exec_path,omitempty"`
	UserDataDir string `json:"user_data_dir,omitempty"`
	// CookieSource names a local browser whose cookie store seeds the
	// session ("chrome", "firefox", ...). Empty disables the import.
	CookieSource string `json:"cookie_source,omitempty"`
}

type UIConfig struct {
	Theme         string  `json:"theme"`
	WarnThreshold float64 `json:"warn_threshold"`
	CritThreshold float64 `json:"crit_threshold"`
}

type DataConfig struct {
	RetentionDays int    `json:"retention_days"`
	DBPath        string `json:"db_path,omitempty"`
}

type Config struct {
	Tracker TrackerConfig `json:"tracker"`
	Browser BrowserConfig `json:"browser"`
	UI      UIConfig      `json:"ui"`
	Data    DataConfig    `json:"data"`
}

// Values offered by the settings UI. Other values are accepted from the
// file as-is.
var (
	RefreshIntervalChoices  = []int{10, 30, 60, 300, 1800}
	PredictionPeriodChoices = []int{7, 14, 21}
)

func DefaultConfig() Config {
	return Config{
		Tracker: TrackerConfig{
			RefreshIntervalSeconds: 30,
			PredictionPeriodDays:   7,
			Entitlement:            1200,
			CostPerRequestUSD:      0.04,
		},
		Browser: BrowserConfig{
			Headless:     true,
			CookieSource: "chrome",
		},
		UI: UIConfig{
			Theme:         "Catppuccin Mocha",
			WarnThreshold: 0.70,
			CritThreshold: 0.90,
		},
		Data: DataConfig{
			RetentionDays: 90,
		},
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "reqwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "reqwatch")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	def := DefaultConfig()
	if cfg.Tracker.RefreshIntervalSeconds <= 0 {
		cfg.Tracker.RefreshIntervalSeconds = def.Tracker.RefreshIntervalSeconds
	}
	if cfg.Tracker.PredictionPeriodDays <= 0 {
		cfg.Tracker.PredictionPeriodDays = def.Tracker.PredictionPeriodDays
	}
	if cfg.Tracker.Entitlement <= 0 {
		cfg.Tracker.Entitlement = def.Tracker.Entitlement
	}
	if cfg.Tracker.CostPerRequestUSD <= 0 {
		cfg.Tracker.CostPerRequestUSD = def.Tracker.CostPerRequestUSD
	}
	if cfg.UI.WarnThreshold <= 0 {
		cfg.UI.WarnThreshold = def.UI.WarnThreshold
	}
	if cfg.UI.CritThreshold <= 0 {
		cfg.UI.CritThreshold = def.UI.CritThreshold
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = def.UI.Theme
	}
	if cfg.Data.RetentionDays <= 0 {
		cfg.Data.RetentionDays = def.Data.RetentionDays
	}

	return cfg, nil
}

// saveMu guards read-modify-write cycles on the config file.
var saveMu sync.Mutex

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SaveTracker persists tracker settings into the config file
// (read-modify-write).
func SaveTracker(tracker TrackerConfig) error {
	return SaveTrackerTo(ConfigPath(), tracker)
}

func SaveTrackerTo(path string, tracker TrackerConfig) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	cfg, err := LoadFrom(path)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.Tracker = tracker
	return SaveTo(path, cfg)
}

// SaveTheme persists a theme name into the config file (read-modify-write).
func SaveTheme(theme string) error {
	return SaveThemeTo(ConfigPath(), theme)
}

func SaveThemeTo(path string, theme string) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	cfg, err := LoadFrom(path)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.UI.Theme = theme
	return SaveTo(path, cfg)
}
