package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ritzau/graph-layout/pkg/config"
	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/layout/crdtstore"
	"github.com/ritzau/graph-layout/pkg/layout/memstore"
	"github.com/ritzau/graph-layout/pkg/logging"
	"github.com/ritzau/graph-layout/pkg/store"
	"github.com/ritzau/graph-layout/pkg/watcher"
	"github.com/ritzau/graph-layout/pkg/web"
)

// metricsInterval is how often index metrics are pushed to SSE subscribers
const metricsInterval = 5 * time.Second

func main() {
	flags := pflag.NewFlagSet("layoutd", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Configure(cfg.Verbosity, cfg.JSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	adapter, closeAdapter := newAdapter(cfg)
	defer closeAdapter()

	st := store.New(adapter, store.Options{
		Actor:         cfg.Actor,
		World:         cfg.Index.World(),
		MaxDepth:      cfg.Index.MaxDepth,
		MaxItems:      cfg.Index.MaxItems,
		Debounce:      debounce(cfg),
		RerouteRadius: cfg.Index.RerouteRadius,
	})
	defer st.Close()

	server := web.NewServer(st, cfg.Actor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Watch {
		if err := watchConfig(ctx, flags, cfg, st); err != nil {
			logging.Warn("config hot reload disabled", "path", cfg.File, "error", err)
		}
	}
	go publishMetrics(ctx, server)

	go func() {
		<-ctx.Done()
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Error("shutdown failed", "error", err)
		}
	}()

	logging.Info("layout daemon ready", "backend", cfg.Backend, "actor", cfg.Actor, "port", cfg.Port)
	if err := server.Start(cfg.Port); err != nil {
		logging.Fatal("failed to start server", "error", err)
	}
}

func newAdapter(cfg *config.Config) (layout.Adapter, func()) {
	opts := []layout.Option{layout.WithDefaultActor(cfg.Actor)}
	if cfg.Backend == config.BackendCRDT {
		a := crdtstore.New("", opts...)
		logging.Info("using replicated backend", "client", a.ClientID())
		return a, a.Close
	}
	return memstore.New(opts...), func() {}
}

// debounce maps a configured zero window to immediate index updates
func debounce(cfg *config.Config) time.Duration {
	if cfg.Index.Debounce == 0 {
		return -1
	}
	return cfg.Index.Debounce
}

func publishMetrics(ctx context.Context, server *web.Server) {
	tick := time.NewTicker(metricsInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := server.PublishIndexMetrics(); err != nil {
				logging.Debug("metrics not published", "error", err)
			}
		}
	}
}

// watchConfig reloads the config file on change and applies what can be
// changed without a restart
func watchConfig(ctx context.Context, flags *pflag.FlagSet, current *config.Config, st *store.Store) error {
	fw, err := watcher.NewFileWatcher(current.File)
	if err != nil {
		return err
	}
	fw.Start(ctx)

	deb := watcher.NewDebouncer(fw.Events(), watcher.DefaultQuietPeriod, watcher.DefaultMaxWait)
	deb.Start(ctx)

	go func() {
		for event := range deb.Output() {
			if event.Type == watcher.ChangeTypeRemove {
				logging.Warn("config file removed, keeping current settings", "path", current.File)
				continue
			}

			next, err := config.Load(flags)
			if err != nil {
				logging.Warn("config reload rejected", "path", current.File, "error", err)
				continue
			}

			changes := watcher.AnalyzeChanges(current, next)
			if changes.ReloadLogging {
				if err := logging.Configure(next.Verbosity, next.JSON); err != nil {
					logging.Warn("invalid verbosity", "verbosity", next.Verbosity, "error", err)
				}
			}
			if changes.ReloadDebounce {
				st.SetDebounce(debounce(next))
			}
			if len(changes.RestartRequired) > 0 {
				logging.Warn("config changes need a restart", "keys", changes.RestartRequired)
			}
			if !changes.Empty() {
				logging.Info("config reloaded", "path", current.File,
					"logging", changes.ReloadLogging, "debounce", changes.ReloadDebounce)
			}
			current = next
		}
	}()
	return nil
}
