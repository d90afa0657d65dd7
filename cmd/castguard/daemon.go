package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/control"
	"github.com/castguard/castguard/internal/engine"
	"github.com/castguard/castguard/internal/ipc"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/store"
	"github.com/castguard/castguard/internal/util"
)

type openBackend func(ctx context.Context, cfg config.StorageConfig) (store.Backend, error)

// daemon owns the running engine and its settings store. A restart builds a
// fresh pair and swaps it into both socket servers before the old one stops.
type daemon struct {
	logger    *util.Logger
	live      *config.Live
	host      *ipc.HostContext
	hook      *ipc.Server
	control   *control.Server
	collector *metrics.Collector
	exporter  *metrics.Exporter
	ephemeral bool
	open      openBackend

	mu       sync.Mutex
	engine   *engine.Engine
	settings *store.Settings
}

func (d *daemon) storageConfig(cfg *config.Config) config.StorageConfig {
	if d.ephemeral {
		return config.StorageConfig{Driver: config.DriverMemory}
	}
	return cfg.Storage
}

// Restart replaces the running engine. On failure the previous engine keeps
// serving.
func (d *daemon) Restart(ctx context.Context, reason string) error {
	cfg := d.live.Current()
	storage := d.storageConfig(cfg)
	d.logger.Infof("%s, starting engine with %s storage", reason, storage.Driver)

	open := d.open
	if open == nil {
		open = store.Open
	}
	backend, err := open(ctx, storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", storage.Driver, err)
	}
	settings := store.NewSettings(backend)

	var notifier engine.Notifier
	if d.hook != nil {
		notifier = d.hook
	}
	eng, err := engine.New(engine.Options{
		Persistence: settings,
		Resolver:    d.host,
		Settings:    d.live,
		Notifier:    notifier,
		Logger:      d.logger.Named("engine"),
		Metrics:     d.collector,
		Exporter:    d.exporter,
	})
	if err != nil {
		settings.Close()
		return err
	}
	if err := eng.Start(ctx); err != nil {
		settings.Close()
		return fmt.Errorf("start engine: %w", err)
	}

	d.mu.Lock()
	prevEngine, prevSettings := d.engine, d.settings
	d.engine, d.settings = eng, settings
	d.mu.Unlock()

	if d.hook != nil {
		d.hook.SetEngine(eng)
	}
	if d.control != nil {
		d.control.SetEngine(eng)
	}
	if prevEngine != nil {
		prevEngine.Stop()
	}
	if prevSettings != nil {
		if err := prevSettings.Close(); err != nil {
			d.logger.Warnf("close previous storage: %v", err)
		}
	}
	return nil
}

// Engine returns the engine currently serving requests.
func (d *daemon) Engine() *engine.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

// Shutdown stops the engine and releases its store.
func (d *daemon) Shutdown() {
	d.mu.Lock()
	eng, settings := d.engine, d.settings
	d.engine, d.settings = nil, nil
	d.mu.Unlock()
	if eng != nil {
		eng.Stop()
	}
	if settings != nil {
		if err := settings.Close(); err != nil {
			d.logger.Warnf("close storage: %v", err)
		}
	}
}
