package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/util"
)

type engineRestarter interface {
	Restart(ctx context.Context, reason string) error
}

type configReloader struct {
	path      string
	logger    *util.Logger
	live      *config.Live
	restarter engineRestarter
	metrics   *metrics.Collector

	mu             sync.Mutex
	lastSerialized []byte
}

func newConfigReloader(path string, logger *util.Logger, live *config.Live, restarter engineRestarter, metrics *metrics.Collector, serialized []byte) *configReloader {
	return &configReloader{
		path:           path,
		logger:         logger,
		live:           live,
		restarter:      restarter,
		metrics:        metrics,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

// Reload reads the config file again. A document that fails to parse or
// lint is rejected and the previous one stays live. Changes to the context
// list, storage or classifier restart the engine; everything else is picked
// up on the next decision.
func (r *configReloader) Reload(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Infof("%s, reloading config", reason)
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		r.logDiff(raw)
		return err
	}
	if lintErrs := cfg.Lint(); len(lintErrs) > 0 {
		r.logLintErrors(lintErrs)
		r.logDiff(raw)
		return lintErrs[0]
	}

	prev := r.live.Store(cfg)
	r.metrics.SetEnabled(cfg.Telemetry.Enabled)
	if needsRestart(prev, cfg) {
		if err := r.restarter.Restart(ctx, "engine settings changed"); err != nil {
			r.live.Store(prev)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("restart engine: %w", err)
		}
	}

	r.lastSerialized = append([]byte(nil), raw...)
	r.logger.Infof("config reloaded")
	return nil
}

func needsRestart(prev, next *config.Config) bool {
	if prev == nil || next == nil {
		return true
	}
	return !cmp.Equal(prev.Contexts, next.Contexts) ||
		!cmp.Equal(prev.Storage, next.Storage) ||
		!cmp.Equal(prev.Classifier, next.Classifier)
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		if lintErr.Path != "" {
			r.logger.Warnf(" - %s: %s", lintErr.Path, lintErr.Message)
			continue
		}
		r.logger.Warnf(" - %s", lintErr.Message)
	}
}
