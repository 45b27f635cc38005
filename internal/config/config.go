// Package config resolves village settings from, in increasing precedence:
// built-in defaults, the user config file, the workspace config file,
// BEADS_* environment variables and explicit overrides (CLI flags).
//
// Config files are YAML or TOML, picked by extension:
//
//	~/.beads-village/config.yaml   (or .yml / .toml)
//	<workspace>/.beads-village.yaml (or .yml / .toml)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvAgent      = "BEADS_AGENT"
	EnvWorkspace  = "BEADS_WS"
	EnvTeam       = "BEADS_TEAM"
	EnvRole       = "BEADS_ROLE"
	EnvLeader     = "BEADS_LEADER"
	EnvUseDaemon  = "BEADS_USE_DAEMON"
	EnvHubRoot    = "BEADS_VILLAGE_BASE"
	EnvBD         = "BEADS_BD"
	EnvTTL        = "BEADS_TTL"
	EnvLogLevel   = "BEADS_LOG_LEVEL"
	EnvJournalDir = "BEADS_JOURNAL_DIR"
)

// DefaultTeam is the team every session joins unless told otherwise.
const DefaultTeam = "default"

// HubDirName is the hub directory under the user's home.
const HubDirName = ".beads-village"

// Config is the resolved configuration of one process.
type Config struct {
	Agent        string
	Workspace    string
	Team         string
	Role         string
	Leader       bool
	PreferDaemon bool
	HubRoot      string
	BDPath       string
	JournalDir   string
	LogLevel     string

	LeaseTTL       time.Duration
	ProbeTimeout   time.Duration
	ProbeCacheTTL  time.Duration
	CommandTimeout time.Duration
	DaemonTimeout  time.Duration
}

// Default returns the built-in defaults. Workspace and HubRoot are filled
// in by Load.
func Default() Config {
	return Config{
		Team:           DefaultTeam,
		PreferDaemon:   true,
		BDPath:         "bd",
		LogLevel:       "info",
		LeaseTTL:       600 * time.Second,
		ProbeTimeout:   150 * time.Millisecond,
		ProbeCacheTTL:  2 * time.Second,
		CommandTimeout: 30 * time.Second,
		DaemonTimeout:  10 * time.Second,
	}
}

// Overrides carries explicitly requested values, typically CLI flags. Zero
// values mean "not set".
type Overrides struct {
	Agent        string
	Workspace    string
	Team         string
	Role         string
	Leader       *bool
	PreferDaemon *bool
	HubRoot      string
	LeaseTTL     time.Duration
}

// fileConfig is the on-disk shape shared by YAML and TOML files.
type fileConfig struct {
	Agent          string `yaml:"agent" toml:"agent"`
	Workspace      string `yaml:"workspace" toml:"workspace"`
	Team           string `yaml:"team" toml:"team"`
	Role           string `yaml:"role" toml:"role"`
	Leader         *bool  `yaml:"leader" toml:"leader"`
	UseDaemon      *bool  `yaml:"use_daemon" toml:"use_daemon"`
	HubRoot        string `yaml:"hub_root" toml:"hub_root"`
	BD             string `yaml:"bd" toml:"bd"`
	JournalDir     string `yaml:"journal_dir" toml:"journal_dir"`
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	LeaseTTL       int    `yaml:"lease_ttl_seconds" toml:"lease_ttl_seconds"`
	ProbeTimeoutMS int    `yaml:"probe_timeout_ms" toml:"probe_timeout_ms"`
	CommandTimeout int    `yaml:"command_timeout_seconds" toml:"command_timeout_seconds"`
}

// userHomeDir and getwd are package-level for tests.
var (
	userHomeDir = os.UserHomeDir
	getwd       = os.Getwd
)

// Load resolves the configuration.
func Load(o Overrides) (Config, error) {
	cfg := Default()

	home, err := userHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("resolving home directory: %w", err)
	}
	cfg.HubRoot = filepath.Join(home, HubDirName)
	if v := os.Getenv(EnvHubRoot); v != "" {
		cfg.HubRoot = v
	}
	if o.HubRoot != "" {
		cfg.HubRoot = o.HubRoot
	}

	userFile, err := readFirst(cfg.HubRoot, "config")
	if err != nil {
		return cfg, err
	}
	if userFile != nil {
		apply(&cfg, userFile)
	}

	// The workspace decides which workspace file to read, so settle it
	// before the remaining layers.
	switch {
	case o.Workspace != "":
		cfg.Workspace = o.Workspace
	case os.Getenv(EnvWorkspace) != "":
		cfg.Workspace = os.Getenv(EnvWorkspace)
	case cfg.Workspace == "":
		wd, err := getwd()
		if err != nil {
			return cfg, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.Workspace = wd
	}

	wsFile, err := readFirst(cfg.Workspace, ".beads-village")
	if err != nil {
		return cfg, err
	}
	if wsFile != nil {
		wsFile.Workspace = ""
		wsFile.HubRoot = ""
		apply(&cfg, wsFile)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyOverrides(&cfg, o)

	if cfg.Team == "" {
		cfg.Team = DefaultTeam
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = cfg.HubRoot
	}
	return cfg, nil
}

// readFirst loads the first of <base>.yaml, <base>.yml, <base>.toml found
// in dir. A missing file is not an error.
func readFirst(dir, base string) (*fileConfig, error) {
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		p := filepath.Join(dir, base+ext)
		//nolint:gosec // path built from the configured hub or workspace
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", p, err)
		}

		var fc fileConfig
		if ext == ".toml" {
			err = toml.Unmarshal(data, &fc)
		} else {
			err = yaml.Unmarshal(data, &fc)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", p, err)
		}
		return &fc, nil
	}
	return nil, nil
}

func apply(cfg *Config, fc *fileConfig) {
	setString(&cfg.Agent, fc.Agent)
	setString(&cfg.Workspace, fc.Workspace)
	setString(&cfg.Team, fc.Team)
	setString(&cfg.Role, fc.Role)
	setString(&cfg.HubRoot, fc.HubRoot)
	setString(&cfg.BDPath, fc.BD)
	setString(&cfg.JournalDir, fc.JournalDir)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.Leader != nil {
		cfg.Leader = *fc.Leader
	}
	if fc.UseDaemon != nil {
		cfg.PreferDaemon = *fc.UseDaemon
	}
	if fc.LeaseTTL > 0 {
		cfg.LeaseTTL = ttlSeconds(fc.LeaseTTL)
	}
	if fc.ProbeTimeoutMS > 0 {
		cfg.ProbeTimeout = time.Duration(fc.ProbeTimeoutMS) * time.Millisecond
	}
	if fc.CommandTimeout > 0 {
		cfg.CommandTimeout = time.Duration(fc.CommandTimeout) * time.Second
	}
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Agent, os.Getenv(EnvAgent))
	setString(&cfg.Team, os.Getenv(EnvTeam))
	setString(&cfg.Role, os.Getenv(EnvRole))
	setString(&cfg.BDPath, os.Getenv(EnvBD))
	setString(&cfg.LogLevel, os.Getenv(EnvLogLevel))
	setString(&cfg.JournalDir, os.Getenv(EnvJournalDir))

	if v := os.Getenv(EnvLeader); v != "" {
		cfg.Leader = truthy(v)
	}
	if v := os.Getenv(EnvUseDaemon); v != "" {
		cfg.PreferDaemon = truthy(v)
	}
	if v := os.Getenv(EnvTTL); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("%s must be a positive number of seconds, got %q", EnvTTL, v)
		}
		cfg.LeaseTTL = ttlSeconds(secs)
	}
	return nil
}

// maxLeaseTTL matches the cap the lease manager applies per call.
const maxLeaseTTL = 24 * time.Hour

func ttlSeconds(secs int) time.Duration {
	if secs >= int(maxLeaseTTL/time.Second) {
		return maxLeaseTTL
	}
	return time.Duration(secs) * time.Second
}

func applyOverrides(cfg *Config, o Overrides) {
	setString(&cfg.Agent, o.Agent)
	setString(&cfg.Team, o.Team)
	setString(&cfg.Role, o.Role)
	if o.Leader != nil {
		cfg.Leader = *o.Leader
	}
	if o.PreferDaemon != nil {
		cfg.PreferDaemon = *o.PreferDaemon
	}
	if o.LeaseTTL > 0 {
		cfg.LeaseTTL = o.LeaseTTL
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
