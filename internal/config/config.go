// Package config loads papagai's settings.
//
// Settings come from, in increasing order of precedence: built-in defaults,
// $XDG_CONFIG_HOME/papagai/config.yaml, PAPAGAI_* environment variables and
// finally command-line flags (applied by the caller).
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	perrors "github.com/whot/papagai/internal/errors"
)

// Isolation modes.
const (
	IsolationAuto     = "auto"
	IsolationWorktree = "worktree"
	IsolationOverlay  = "overlayfs"
)

// Merge strategies used when reconciling into a target branch.
const (
	MergeFastForward = "ff-only"
	MergeCommit      = "merge"
)

// DefaultAgent is the agent command run inside the isolated copy.
const DefaultAgent = "claude"

const configFileName = "config.yaml"

// Config holds the application configuration
type Config struct {
	Isolation     string   `yaml:"isolation"`      // auto, worktree or overlayfs
	Keep          bool     `yaml:"keep"`           // Keep the isolated copy after completion
	Agent         string   `yaml:"agent"`          // Agent executable
	AllowedTools  []string `yaml:"allowed_tools"`  // Appended to the built-in allow-list
	Notify        bool     `yaml:"notify"`         // Desktop notification when done
	MergeStrategy string   `yaml:"merge_strategy"` // ff-only or merge
	CacheDir      string   `yaml:"cache_dir"`      // Overlay cache root
	TasksDir      string   `yaml:"tasks_dir"`      // User task directory

	filePath string
}

// env mirrors the overridable settings. Booleans are pointers left nil when
// the variable is unset, so an explicit false still overrides the file.
type env struct {
	Isolation     string `env:"PAPAGAI_ISOLATION"`
	Keep          *bool  `env:"PAPAGAI_KEEP,noinit"`
	Agent         string `env:"PAPAGAI_AGENT"`
	Notify        *bool  `env:"PAPAGAI_NOTIFY,noinit"`
	MergeStrategy string `env:"PAPAGAI_MERGE_STRATEGY"`
	CacheDir      string `env:"PAPAGAI_CACHE_DIR"`

	Home       string `env:"HOME"`
	CacheHome  string `env:"XDG_CACHE_HOME"`
	ConfigHome string `env:"XDG_CONFIG_HOME"`
}

func (e env) configHome() string {
	if e.ConfigHome != "" {
		return e.ConfigHome
	}
	return filepath.Join(e.Home, ".config")
}

func (e env) cacheHome() string {
	if e.CacheHome != "" {
		return e.CacheHome
	}
	return filepath.Join(e.Home, ".cache")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Isolation:     IsolationAuto,
		Agent:         DefaultAgent,
		AllowedTools:  []string{},
		MergeStrategy: MergeFastForward,
	}
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration, resolving environment variables through
// lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var e env
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &e,
		Lookuper: lookuper,
	}); err != nil {
		return nil, perrors.ConfigLoadFailed("environment", err)
	}
	if e.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, perrors.ConfigLoadFailed("environment", err)
		}
		e.Home = home
	}

	path := filepath.Join(e.configHome(), "papagai", configFileName)
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv(e)

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(e.cacheHome(), "papagai")
	}
	if cfg.TasksDir == "" {
		cfg.TasksDir = filepath.Join(e.configHome(), "papagai", "tasks")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile parses the YAML config file at path. A missing file yields the
// defaults.
func loadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, perrors.ConfigLoadFailed(path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, perrors.ConfigLoadFailed(path, err)
	}
	cfg.ensureInitialized()
	return cfg, nil
}

// ensureInitialized restores defaults for keys the file set to empty values.
func (c *Config) ensureInitialized() {
	if c.Isolation == "" {
		c.Isolation = IsolationAuto
	}
	if c.Agent == "" {
		c.Agent = DefaultAgent
	}
	if c.MergeStrategy == "" {
		c.MergeStrategy = MergeFastForward
	}
	if c.AllowedTools == nil {
		c.AllowedTools = []string{}
	}
}

func (c *Config) applyEnv(e env) {
	if e.Isolation != "" {
		c.Isolation = e.Isolation
	}
	if e.Agent != "" {
		c.Agent = e.Agent
	}
	if e.MergeStrategy != "" {
		c.MergeStrategy = e.MergeStrategy
	}
	if e.CacheDir != "" {
		c.CacheDir = e.CacheDir
	}
	if e.Keep != nil {
		c.Keep = *e.Keep
	}
	if e.Notify != nil {
		c.Notify = *e.Notify
	}
}

// Validate checks that enumerated settings hold known values.
func (c *Config) Validate() error {
	if !slices.Contains([]string{IsolationAuto, IsolationWorktree, IsolationOverlay}, c.Isolation) {
		return perrors.ConfigInvalid(fmt.Sprintf("unknown isolation mode %q (want auto, worktree or overlayfs)", c.Isolation))
	}
	if !slices.Contains([]string{MergeFastForward, MergeCommit}, c.MergeStrategy) {
		return perrors.ConfigInvalid(fmt.Sprintf("unknown merge strategy %q (want ff-only or merge)", c.MergeStrategy))
	}
	if c.Agent == "" {
		return perrors.ConfigInvalid("agent command is empty")
	}
	return nil
}

// Path returns the config file that was consulted, which may not exist.
func (c *Config) Path() string {
	return c.filePath
}
