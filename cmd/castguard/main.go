package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/control"
	"github.com/castguard/castguard/internal/ipc"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/util"
)

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "castguard", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	metricsAddr := flag.String("metrics-addr", "", "serve prometheus metrics on this address (disabled when empty)")
	ephemeral := flag.Bool("ephemeral", false, "keep rules and trigger words in memory only")
	hookSocket := flag.String("hook-socket", "", "hook socket path (default $XDG_RUNTIME_DIR/castguard/hook.sock)")
	controlSocket := flag.String("control-socket", "", "control socket path (default $XDG_RUNTIME_DIR/castguard/control.sock)")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfgFullPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("resolve config path: %w", err))
	}
	cfgFullPath = filepath.Clean(cfgFullPath)

	cfg, serialized, err := loadInitialConfig(cfgFullPath)
	if err != nil {
		exitErr(fmt.Errorf("load config: %w", err))
	}
	if serialized == nil {
		logger.Infof("no config at %s, using defaults", cfgFullPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live := config.NewLive(cfg)
	collector := metrics.NewCollector(cfg.Telemetry.Enabled)
	exporter := metrics.NewExporter()
	host := ipc.NewHostContext(live)

	hookSrv, err := ipc.NewServer(nil, host, logger.Named("hook"), *hookSocket)
	if err != nil {
		exitErr(fmt.Errorf("configure hook server: %w", err))
	}
	d := &daemon{
		logger:    logger,
		live:      live,
		host:      host,
		hook:      hookSrv,
		collector: collector,
		exporter:  exporter,
		ephemeral: *ephemeral,
	}
	reloader := newConfigReloader(cfgFullPath, logger.Named("reload"), live, d, collector, serialized)

	ctrlSrv, err := control.NewServer(nil, collector, logger.Named("control"), func(reason string) error {
		return reloader.Reload(ctx, reason)
	}, *controlSocket)
	if err != nil {
		exitErr(fmt.Errorf("configure control server: %w", err))
	}
	d.control = ctrlSrv

	if err := d.Restart(ctx, "daemon starting"); err != nil {
		exitErr(err)
	}
	defer d.Shutdown()

	reloadRequests := make(chan string, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(fmt.Errorf("watch config: %w", err))
	}
	defer watcher.Close()
	cfgDir := filepath.Dir(cfgFullPath)
	if err := watcher.Add(cfgDir); err != nil {
		logger.Warnf("config hot reload disabled: %v", err)
	} else {
		if err := watcher.Add(cfgFullPath); err != nil {
			logger.Debugf("unable to watch config file directly: %v", err)
		}
		go watchConfig(logger, watcher, cfgFullPath, reloadRequests)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errs := make(chan error, 3)
	go func() {
		errs <- hookSrv.Serve(ctx)
	}()
	go func() {
		errs <- ctrlSrv.Serve(ctx)
	}()
	if *metricsAddr != "" {
		go func() {
			errs <- serveMetrics(ctx, logger, *metricsAddr, exporter)
		}()
	}

	for {
		select {
		case err := <-errs:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("server exited: %v", err)
				cancel()
				d.Shutdown()
				os.Exit(1)
			}
			logger.Infof("castguard stopped")
			return
		case reason := <-reloadRequests:
			if err := reloader.Reload(ctx, reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloader.Reload(ctx, "received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

// loadInitialConfig returns defaults with a nil document when path does not
// exist. An existing file must parse and validate.
func loadInitialConfig(path string) (*config.Config, []byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, raw, nil
}

func serveMetrics(ctx context.Context, logger *util.Logger, addr string, exporter *metrics.Exporter) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func watchConfig(logger *util.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
