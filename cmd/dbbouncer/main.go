package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mysqlbouncer/mysqlbouncer/internal/api"
	"github.com/mysqlbouncer/mysqlbouncer/internal/backend"
	"github.com/mysqlbouncer/mysqlbouncer/internal/config"
	"github.com/mysqlbouncer/mysqlbouncer/internal/health"
	"github.com/mysqlbouncer/mysqlbouncer/internal/idlecache"
	"github.com/mysqlbouncer/mysqlbouncer/internal/metrics"
	"github.com/mysqlbouncer/mysqlbouncer/internal/policy"
	"github.com/mysqlbouncer/mysqlbouncer/internal/proxy"
)

func main() {
	configPath := flag.String("config", "configs/mysqlbouncer.yaml", "path to configuration file")
	flag.Parse()

	slog.Info("mysqlbouncer starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "path", *configPath, "backends", len(cfg.Backends))

	registry := backend.NewRegistry()
	for _, bc := range cfg.Backends {
		role, err := parseRole(bc.Role)
		if err != nil {
			slog.Error("invalid backend role in config", "addr", bc.Addr, "role", bc.Role, "err", err)
			os.Exit(1)
		}
		if _, err := registry.Add(bc.Addr, role); err != nil {
			slog.Error("failed to register backend", "addr", bc.Addr, "err", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	cache := idlecache.NewCache(cfg.Defaults.MaxIdleConnections, cfg.Defaults.MinIdleConnections)
	hc := health.NewChecker(registry, m, 5*time.Second, cfg.Defaults.ConnectTimeout)
	hc.Start()

	proxyServer := proxy.NewServer(registry, cache, policy.NoOpHook{}, cfg.Defaults, m)
	if err := proxyServer.Listen(cfg.Listen.MySQLAddr); err != nil {
		slog.Error("failed to start mysql proxy", "err", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(registry, cache, hc, m, cfg.Listen, cfg.Defaults)
	if err := apiServer.Start(cfg.Listen.APIAddr); err != nil {
		slog.Error("failed to start api server", "err", err)
		os.Exit(1)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		slog.Info("reloading configuration")
		reconcileBackends(registry, newCfg.Backends)
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "err", err)
	}

	slog.Info("mysqlbouncer ready", "mysql_addr", cfg.Listen.MySQLAddr, "api_addr", cfg.Listen.APIAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	proxyServer.Stop()
	hc.Stop()

	slog.Info("mysqlbouncer stopped")
}

// parseRole maps the config file's "rw"/"ro" strings onto backend.Role,
// matching the switch createBackend uses for the same strings over the API.
func parseRole(s string) (backend.Role, error) {
	switch s {
	case "rw":
		return backend.RoleReadWrite, nil
	case "ro":
		return backend.RoleReadOnly, nil
	default:
		return 0, errInvalidRole(s)
	}
}

type errInvalidRole string

func (e errInvalidRole) Error() string {
	return "role must be \"rw\" or \"ro\", got " + string(e)
}

// reconcileBackends adds newly configured backends and removes ones no
// longer present, without disturbing backends present in both sets.
func reconcileBackends(r *backend.Registry, want []config.BackendConfig) {
	wantAddrs := make(map[string]bool, len(want))
	for _, bc := range want {
		wantAddrs[bc.Addr] = true
		role, err := parseRole(bc.Role)
		if err != nil {
			slog.Error("invalid backend role during reload", "addr", bc.Addr, "role", bc.Role, "err", err)
			continue
		}
		if _, ok := r.Get(bc.Addr); !ok {
			if _, err := r.Add(bc.Addr, role); err != nil {
				slog.Error("failed to add backend during reload", "addr", bc.Addr, "err", err)
				continue
			}
			slog.Info("backend added on reload", "addr", bc.Addr, "role", bc.Role)
		}
	}

	for _, b := range r.List() {
		if !wantAddrs[b.Addr] {
			if err := r.Remove(b.Addr); err != nil {
				slog.Error("failed to remove backend during reload", "addr", b.Addr, "err", err)
				continue
			}
			slog.Info("backend removed on reload", "addr", b.Addr)
		}
	}
}
