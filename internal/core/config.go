package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/stagehand"
	ConfigFileName = "config.hcl"
	PidFileName    = "daemon.pid"
	SocketName     = "daemon.sock"
	DBFileName     = "stagehand.db"
)

// Config is the global configuration instance.
var Config *Configuration

// Configuration is the complete stagehand configuration.
type Configuration struct {
	ConfigPath string // directory containing config, socket, pid file, db
	Verbose    int

	Server     ServerConfig
	IPC        IPCConfig
	Liveness   LivenessConfig
	Sync       SyncConfig
	AutoReload AutoReloadConfig
	Output     OutputConfig
}

// ServerConfig holds socket server settings.
type ServerConfig struct {
	// Ports is the candidate list probed in order; empty delegates to
	// ephemeral-port allocation.
	Ports []int
}

// IPCConfig holds engine messaging settings. Durations are strings parsed
// with time.ParseDuration.
type IPCConfig struct {
	SendTimeout       string // write deadline for one frame
	SocketWaitTimeout string // how long a send waits for the engine to connect
}

// LivenessConfig holds adopted-process polling settings.
type LivenessConfig struct {
	PollInterval string
}

// SyncConfig holds cursor synchronization settings.
type SyncConfig struct {
	FollowOnLaunch bool   // activate follow automatically after LAUNCH
	PushOnActivate bool   // push the editor position when follow turns on
	Debounce       string // editor-side debounce before a warp
}

// AutoReloadConfig holds project watcher settings.
type AutoReloadConfig struct {
	Enabled    bool
	Extensions []string // script extensions, e.g. [".rpy"]
}

// OutputConfig holds engine output buffering settings.
type OutputConfig struct {
	HistorySize int
}

// HCL parsing structs. Everything is optional; defaults fill the gaps.

type hclConfig struct {
	Verbose    int            `hcl:"verbose,optional"`
	Server     *hclServer     `hcl:"server,block"`
	IPC        *hclIPC        `hcl:"ipc,block"`
	Liveness   *hclLiveness   `hcl:"liveness,block"`
	Sync       *hclSync       `hcl:"sync,block"`
	AutoReload *hclAutoReload `hcl:"autoreload,block"`
	Output     *hclOutput     `hcl:"output,block"`
}

type hclServer struct {
	Ports []int `hcl:"ports,optional"`
}

type hclIPC struct {
	SendTimeout       string `hcl:"send_timeout,optional"`
	SocketWaitTimeout string `hcl:"socket_wait_timeout,optional"`
}

type hclLiveness struct {
	PollInterval string `hcl:"poll_interval,optional"`
}

type hclSync struct {
	FollowOnLaunch *bool  `hcl:"follow_on_launch,optional"`
	PushOnActivate *bool  `hcl:"push_on_activate,optional"`
	Debounce       string `hcl:"debounce,optional"`
}

type hclAutoReload struct {
	Enabled    *bool    `hcl:"enabled,optional"`
	Extensions []string `hcl:"extensions,optional"`
}

type hclOutput struct {
	HistorySize int `hcl:"history_size,optional"`
}

// DefaultConfiguration returns a Configuration with every default applied.
func DefaultConfiguration(configPath string) *Configuration {
	return &Configuration{
		ConfigPath: configPath,
		Server: ServerConfig{
			Ports: []int{40111, 40112, 40113, 40114, 40115},
		},
		IPC: IPCConfig{
			SendTimeout:       "1s",
			SocketWaitTimeout: "5s",
		},
		Liveness: LivenessConfig{
			PollInterval: "400ms",
		},
		Sync: SyncConfig{
			FollowOnLaunch: true,
			PushOnActivate: true,
			Debounce:       "250ms",
		},
		AutoReload: AutoReloadConfig{
			Enabled:    true,
			Extensions: []string{".rpy"},
		},
		Output: OutputConfig{
			HistorySize: 1000,
		},
	}
}

// LoadConfig reads the config file under configPath into Config. A missing
// file is not an error; defaults apply.
func LoadConfig(configPath string) error {
	cfg := DefaultConfiguration(configPath)
	Config = cfg

	file := filepath.Join(configPath, ConfigFileName)
	var raw hclConfig
	if err := hclsimple.DecodeFile(file, nil, &raw); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("parse %s: %w", file, err)
	}

	cfg.Verbose = raw.Verbose
	if raw.Server != nil && len(raw.Server.Ports) > 0 {
		cfg.Server.Ports = raw.Server.Ports
	}
	if raw.IPC != nil {
		if raw.IPC.SendTimeout != "" {
			cfg.IPC.SendTimeout = raw.IPC.SendTimeout
		}
		if raw.IPC.SocketWaitTimeout != "" {
			cfg.IPC.SocketWaitTimeout = raw.IPC.SocketWaitTimeout
		}
	}
	if raw.Liveness != nil && raw.Liveness.PollInterval != "" {
		cfg.Liveness.PollInterval = raw.Liveness.PollInterval
	}
	if raw.Sync != nil {
		if raw.Sync.FollowOnLaunch != nil {
			cfg.Sync.FollowOnLaunch = *raw.Sync.FollowOnLaunch
		}
		if raw.Sync.PushOnActivate != nil {
			cfg.Sync.PushOnActivate = *raw.Sync.PushOnActivate
		}
		if raw.Sync.Debounce != "" {
			cfg.Sync.Debounce = raw.Sync.Debounce
		}
	}
	if raw.AutoReload != nil {
		if raw.AutoReload.Enabled != nil {
			cfg.AutoReload.Enabled = *raw.AutoReload.Enabled
		}
		if len(raw.AutoReload.Extensions) > 0 {
			cfg.AutoReload.Extensions = raw.AutoReload.Extensions
		}
	}
	if raw.Output != nil && raw.Output.HistorySize > 0 {
		cfg.Output.HistorySize = raw.Output.HistorySize
	}

	return nil
}

func GetSocketPath() string {
	return filepath.Join(Config.ConfigPath, SocketName)
}

func GetPIDFilePath() string {
	return filepath.Join(Config.ConfigPath, PidFileName)
}

func GetDBPath() string {
	return filepath.Join(Config.ConfigPath, DBFileName)
}

// DefaultConfigPath returns ~/.config/stagehand.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(home, BaseDirName)
}

// duration parses s, falling back to def on empty or bad input.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (c *Configuration) SendTimeout() time.Duration {
	return duration(c.IPC.SendTimeout, time.Second)
}

func (c *Configuration) SocketWaitTimeout() time.Duration {
	return duration(c.IPC.SocketWaitTimeout, 5*time.Second)
}

func (c *Configuration) PollInterval() time.Duration {
	return duration(c.Liveness.PollInterval, 400*time.Millisecond)
}

func (c *Configuration) SyncDebounce() time.Duration {
	return duration(c.Sync.Debounce, 250*time.Millisecond)
}
