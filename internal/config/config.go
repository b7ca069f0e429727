// Package config loads and hot-reloads mysqlbouncer's YAML configuration:
// listener addresses, backend list, and pool defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for mysqlbouncer.
type Config struct {
	Listen   ListenConfig    `yaml:"listen"`
	Defaults PoolDefaults    `yaml:"defaults"`
	Backends []BackendConfig `yaml:"backends"`
}

// ListenConfig defines the ports and bind addresses mysqlbouncer listens on.
type ListenConfig struct {
	MySQLAddr string `yaml:"mysql_addr"`
	APIAddr   string `yaml:"api_addr"`
	APIKey    string `yaml:"api_key"`
}

// BackendConfig names one MySQL server this proxy may route to.
type BackendConfig struct {
	Addr string `yaml:"addr"`
	Role string `yaml:"role"` // "rw" or "ro"
}

// PoolDefaults controls idle-connection caching and session timeouts,
// applied uniformly across all backends.
type PoolDefaults struct {
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	MinIdleConnections int           `yaml:"min_idle_connections"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	// DuplicateErrFatal controls whether a duplicate ERR_Packet observed
	// on COM_CHANGE_USER (the MySQL 5.1.12-5.1.17 double-ERR bug) is
	// treated as a fatal protocol error. Defaults to true.
	DuplicateErrFatal bool `yaml:"duplicate_err_fatal"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// rawConfig mirrors Config but with DuplicateErrFatal as a pointer, so
// Load can distinguish "key absent from the file" (default to true) from
// "key explicitly set to false".
type rawConfig struct {
	Listen   ListenConfig `yaml:"listen"`
	Defaults struct {
		MaxIdleConnections int           `yaml:"max_idle_connections"`
		MinIdleConnections int           `yaml:"min_idle_connections"`
		ConnectTimeout     time.Duration `yaml:"connect_timeout"`
		ReadTimeout        time.Duration `yaml:"read_timeout"`
		WriteTimeout       time.Duration `yaml:"write_timeout"`
		DuplicateErrFatal  *bool         `yaml:"duplicate_err_fatal"`
	} `yaml:"defaults"`
	Backends []BackendConfig `yaml:"backends"`
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	raw := &rawConfig{}
	if err := yaml.Unmarshal(data, raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Listen:   raw.Listen,
		Backends: raw.Backends,
		Defaults: PoolDefaults{
			MaxIdleConnections: raw.Defaults.MaxIdleConnections,
			MinIdleConnections: raw.Defaults.MinIdleConnections,
			ConnectTimeout:     raw.Defaults.ConnectTimeout,
			ReadTimeout:        raw.Defaults.ReadTimeout,
			WriteTimeout:       raw.Defaults.WriteTimeout,
			DuplicateErrFatal:  raw.Defaults.DuplicateErrFatal == nil || *raw.Defaults.DuplicateErrFatal,
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.MySQLAddr == "" {
		cfg.Listen.MySQLAddr = "0.0.0.0:3306"
	}
	if cfg.Listen.APIAddr == "" {
		cfg.Listen.APIAddr = "127.0.0.1:8080"
	}
	if cfg.Defaults.MaxIdleConnections == 0 {
		cfg.Defaults.MaxIdleConnections = 10
	}
	if cfg.Defaults.MinIdleConnections == 0 {
		cfg.Defaults.MinIdleConnections = 2
	}
	if cfg.Defaults.ConnectTimeout == 0 {
		cfg.Defaults.ConnectTimeout = 5 * time.Second
	}
	if cfg.Defaults.ReadTimeout == 0 {
		cfg.Defaults.ReadTimeout = 30 * time.Second
	}
	if cfg.Defaults.WriteTimeout == 0 {
		cfg.Defaults.WriteTimeout = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Addr == "" {
			return fmt.Errorf("backend config: addr is required")
		}
		if b.Role != "rw" && b.Role != "ro" {
			return fmt.Errorf("backend %q: role must be \"rw\" or \"ro\", got %q", b.Addr, b.Role)
		}
		if seen[b.Addr] {
			return fmt.Errorf("backend %q: duplicate address", b.Addr)
		}
		seen[b.Addr] = true
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
