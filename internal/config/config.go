// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/l-n-s/kote-go/internal/util"
)

type Config struct {
	DataDir string  `json:"data_dir"`
	Gateway Gateway `json:"gateway"`
	Session Session `json:"session"`
	Logging Logging `json:"logging"`
	Monitor Monitor `json:"monitor"`
	Stats   Stats   `json:"stats"`
}

// Gateway describes how to reach the local overlay gateway daemon.
type Gateway struct {
	// Address is host:port of the SAM-style control socket.
	Address string `json:"address"`
}

// Session carries the knobs governing the local destination and session.
type Session struct {
	// NamePrefix is prepended to the generated session name (default "kote").
	NamePrefix string `json:"name_prefix"`

	// IgnoreUnauthorized, when true, makes the receiver close inbound
	// connections from unknown peers silently instead of replying
	// UNAUTHORIZED.
	IgnoreUnauthorized bool `json:"ignore_unauthorized"`
}

type Logging struct {
	Level string `json:"level"`
}

// Monitor configures the local event-feed HTTP+WebSocket server. Empty
// Addr disables it.
type Monitor struct {
	Addr string `json:"addr"`
}

// Stats configures the delivery-statistics SQLite store.
type Stats struct {
	DBPath string `json:"db_path"`
}

func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Gateway: Gateway{
			Address: "127.0.0.1:7656",
		},
		Session: Session{
			NamePrefix:         "kote",
			IgnoreUnauthorized: false,
		},
		Logging: Logging{
			Level: "info",
		},
		Monitor: Monitor{
			Addr: "",
		},
		Stats: Stats{
			DBPath: "stats.db",
		},
	}
}

// defaultDataDir mirrors the original Python get_datadir(): $KOTE_DATADIR,
// else a platform config directory, else ".".
func defaultDataDir() string {
	if v := os.Getenv("KOTE_DATADIR"); v != "" {
		return v
	}

	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "kote")
		}
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Application Support", "kote")
		}
	default:
		if confdir := os.Getenv("XDG_CONFIG_HOME"); confdir != "" {
			return filepath.Join(confdir, "kote")
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "kote")
		}
	}
	return "."
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(c.Gateway.Address) == "" {
		return errors.New("gateway.address is required")
	}
	if strings.TrimSpace(c.Session.NamePrefix) == "" {
		return errors.New("session.name_prefix is required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a recognized level", c.Logging.Level)
	}
	if strings.TrimSpace(c.Stats.DBPath) == "" {
		return errors.New("stats.db_path is required")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
