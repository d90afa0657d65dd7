package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/engine"
	"github.com/castguard/castguard/internal/ipc"
	"github.com/castguard/castguard/internal/store"
	"github.com/castguard/castguard/internal/util"
)

const defaultScript = `# block a teleport through the menu, then try it with and without the guard
context>>standard
keydown>>shift
menu>>Cast,Varrock Teleport
accept>>Enable block,Varrock Teleport
keyup>>shift
attempt>>direct,0,Varrock Teleport
attempt>>menu,1,Varrock Teleport
keydown>>ctrl
attempt>>direct,0,Varrock Teleport
keyup>>ctrl
`

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "castguard", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	scriptPath := flag.String("script", "", "hook event script, one kind>>payload per line (built-in when empty)")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	persist := flag.Bool("persist", false, "use the configured storage instead of memory")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			exitErr(fmt.Errorf("load config: %w", err))
		}
		logger.Warnf("no config at %s, using defaults", *cfgPath)
		cfg = config.Default()
	}
	if !*persist {
		cfg.Storage = config.StorageConfig{Driver: config.DriverMemory}
	}

	script := defaultScript
	if *scriptPath != "" {
		data, err := os.ReadFile(*scriptPath)
		if err != nil {
			exitErr(fmt.Errorf("read script: %w", err))
		}
		script = string(data)
	}

	fmt.Println("=== Configuration ===")
	if err := marshalYAML(os.Stdout, cfg); err != nil {
		logger.Warnf("failed to print config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, cfg, logger, strings.NewReader(script), os.Stdout); err != nil {
		exitErr(err)
	}
}

// run replays script against a fresh engine and prints every reply followed
// by the recorded decisions and final status.
func run(ctx context.Context, cfg *config.Config, logger *util.Logger, script io.Reader, out io.Writer) error {
	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	settings := store.NewSettings(backend)
	defer settings.Close()

	live := config.NewLive(cfg)
	host := ipc.NewHostContext(live)
	hook, err := ipc.NewServer(nil, host, logger, "unused.sock")
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{
		Persistence: settings,
		Resolver:    host,
		Settings:    live,
		Logger:      logger,
		Notifier: engine.NotifierFunc(func(msg string) {
			fmt.Fprintf(out, "   message: %s\n", msg)
		}),
	})
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()
	hook.SetEngine(eng)

	fmt.Fprintln(out, "\n=== Replay ===")
	scanner := bufio.NewScanner(script)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fmt.Fprintf(out, "%s\n   -> %s\n", line, hook.HandleLine(ctx, line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	fmt.Fprintln(out, "\n=== Decisions ===")
	for _, rec := range eng.History() {
		v := rec.Verdict
		fmt.Fprintf(out, "[%s] %s %q -> %s (%s)", rec.Timestamp.Format(time.RFC3339), rec.Channel, rec.Label, v.Decision, v.Reason)
		if v.Message != "" {
			fmt.Fprintf(out, " %q", v.Message)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "\n=== Status ===")
	return marshalJSON(out, eng.Status(eng.Now()))
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func marshalYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func marshalJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
