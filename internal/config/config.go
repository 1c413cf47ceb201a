package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mzahmed/gemweb/internal/gemini"
)

// Environment keys recognized alongside the config file. The *_1PSID and
// *_1PSIDTS pair is the legacy single-cookie input; the JSON map wins over
// both wherever keys collide.
const (
	EnvCookiesJSON = "GEMWEB_COOKIES_JSON"
	EnvSessionID   = "GEMWEB_1PSID"
	EnvSessionTS   = "GEMWEB_1PSIDTS"
	EnvConfigDir   = "GEMWEB_CONFIG_DIR"
)

// Config is the session input configuration.
type Config struct {
	Cookies            map[string]string `json:"cookies,omitempty"`
	SessionID          string            `json:"session_id,omitempty"`
	SessionTS          string            `json:"session_ts,omitempty"`
	TimeoutSec         int               `json:"timeout_sec"`
	Proxy              string            `json:"proxy,omitempty"`
	AutoRefresh        bool              `json:"auto_refresh"`
	RefreshIntervalSec int               `json:"refresh_interval_sec"`
}

func Default() Config {
	return Config{
		TimeoutSec:         120,
		AutoRefresh:        true,
		RefreshIntervalSec: 540,
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("stat config: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment inputs on the loaded config. getenv is
// injectable so tests do not touch the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvSessionID); v != "" {
		c.SessionID = v
	}
	if v := getenv(EnvSessionTS); v != "" {
		c.SessionTS = v
	}
	if raw := getenv(EnvCookiesJSON); raw != "" {
		parsed := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return fmt.Errorf("parse %s: %w", EnvCookiesJSON, err)
		}
		if c.Cookies == nil {
			c.Cookies = make(map[string]string, len(parsed))
		}
		for k, v := range parsed {
			if k != "" && v != "" {
				c.Cookies[k] = v
			}
		}
	}
	return nil
}

// Options converts the configuration into bootstrap options.
func (c Config) Options() gemini.Options {
	return gemini.Options{
		Cookies:         c.Cookies,
		SessionID:       c.SessionID,
		SessionTS:       c.SessionTS,
		Timeout:         time.Duration(c.TimeoutSec) * time.Second,
		Proxy:           c.Proxy,
		AutoRefresh:     c.AutoRefresh,
		RefreshInterval: time.Duration(c.RefreshIntervalSec) * time.Second,
	}
}

// Dir returns the platform config directory for gemweb.
func Dir() (string, error) {
	if testDir := os.Getenv(EnvConfigDir); testDir != "" {
		return testDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "gemweb"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "gemweb"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "gemweb"), nil
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}
