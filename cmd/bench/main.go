package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/engine"
	"github.com/castguard/castguard/internal/ipc"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/store"
	"github.com/castguard/castguard/internal/util"
)

type benchFixture struct {
	Name   string
	Events []benchEvent
}

type benchEvent struct {
	Line  string
	Delay time.Duration
}

type benchLatencyStats struct {
	Min    float64 `json:"minMs"`
	Mean   float64 `json:"meanMs"`
	Median float64 `json:"medianMs"`
	P95    float64 `json:"p95Ms"`
	Max    float64 `json:"maxMs"`
}

type benchAllocationStats struct {
	Total         uint64  `json:"totalAllocations"`
	PerEvent      float64 `json:"allocationsPerEvent"`
	BytesTotal    uint64  `json:"bytesTotal"`
	BytesPerEvent float64 `json:"bytesPerEvent"`
}

type benchReplyStats struct {
	Allow  int `json:"allow"`
	Block  int `json:"block"`
	Errors int `json:"errors"`
	Other  int `json:"other"`
}

type benchSummary struct {
	Fixture            string               `json:"fixture"`
	Iterations         int                  `json:"iterations"`
	EventsPerIteration int                  `json:"eventsPerIteration"`
	TotalEvents        int                  `json:"totalEvents"`
	WarmupIterations   int                  `json:"warmupIterations"`
	Replies            benchReplyStats      `json:"replies"`
	Latency            benchLatencyStats    `json:"latency"`
	IterationDuration  benchLatencyStats    `json:"iterationDuration"`
	Allocations        benchAllocationStats `json:"allocations"`
	TotalDurationMs    float64              `json:"totalDurationMs"`
	EventsPerSecond    float64              `json:"eventsPerSecond"`
}

type benchReport struct {
	Summary     benchSummary `json:"summary"`
	DurationsMs []float64    `json:"durationsMs"`
}

type iterationResult struct {
	duration time.Duration
	events   []time.Duration
	replies  benchReplyStats
}

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	fixturePath := flag.String("fixture", "", "path to replay fixture (JSON or hook event log); built-in stream when empty")
	iterations := flag.Int("iterations", 100, "number of times to replay the fixture")
	warmup := flag.Int("warmup", 5, "number of warm-up iterations to run before timing")
	cpuProfile := flag.String("cpu-profile", "", "write CPU profile to file")
	memProfile := flag.String("mem-profile", "", "write heap profile to file")
	logLevel := flag.String("log-level", "warn", "log level (trace|debug|info|warn|error)")
	respectDelays := flag.Bool("respect-delays", false, "sleep for event delays declared in the fixture")
	withMetrics := flag.Bool("metrics", false, "record decisions into the collector and prometheus exporter")
	outputPath := flag.String("output", "-", "write JSON report to file ('-' for stdout)")
	humanSummary := flag.Bool("human", false, "print a tabular summary alongside the JSON output")
	flag.Parse()

	if *iterations <= 0 {
		exitErr(errors.New("iterations must be positive"))
	}
	if *warmup < 0 {
		exitErr(errors.New("warmup must be zero or positive"))
	}

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			exitErr(fmt.Errorf("load config: %w", err))
		}
		cfg = loaded
	}
	cfg.Storage = config.StorageConfig{Driver: config.DriverMemory}

	fixture := defaultFixture()
	if *fixturePath != "" {
		loaded, err := loadFixture(*fixturePath)
		if err != nil {
			exitErr(fmt.Errorf("load fixture: %w", err))
		}
		fixture = loaded
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			exitErr(fmt.Errorf("create cpu profile: %w", err))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			exitErr(fmt.Errorf("start cpu profile: %w", err))
		}
		defer pprof.StopCPUProfile()
	}

	ctx := context.Background()
	opts := replayOptions{cfg: cfg, logger: logger, respectDelays: *respectDelays, metrics: *withMetrics}

	for i := 0; i < *warmup; i++ {
		if _, err := replayIteration(ctx, fixture, opts); err != nil {
			exitErr(fmt.Errorf("warmup iteration %d: %w", i+1, err))
		}
	}

	runtime.GC()
	var startMem runtime.MemStats
	runtime.ReadMemStats(&startMem)

	results := make([]iterationResult, 0, *iterations)
	for i := 0; i < *iterations; i++ {
		res, err := replayIteration(ctx, fixture, opts)
		if err != nil {
			exitErr(fmt.Errorf("iteration %d: %w", i+1, err))
		}
		results = append(results, res)
	}

	runtime.GC()
	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			exitErr(fmt.Errorf("create mem profile: %w", err))
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			exitErr(fmt.Errorf("write heap profile: %w", err))
		}
	}

	report := buildReport(fixture, *warmup, results, startMem, endMem)
	if err := writeReport(report, *outputPath); err != nil {
		exitErr(fmt.Errorf("encode report: %w", err))
	}
	if *humanSummary {
		if err := printHumanSummary(report.Summary, os.Stdout); err != nil {
			exitErr(fmt.Errorf("print human summary: %w", err))
		}
	}
}

type replayOptions struct {
	cfg           *config.Config
	logger        *util.Logger
	respectDelays bool
	metrics       bool
}

// replayIteration feeds every fixture line through a fresh engine and hook
// dispatcher, timing each reply.
func replayIteration(ctx context.Context, fixture benchFixture, opts replayOptions) (iterationResult, error) {
	live := config.NewLive(opts.cfg)
	host := ipc.NewHostContext(live)
	hook, err := ipc.NewServer(nil, host, opts.logger, "unused.sock")
	if err != nil {
		return iterationResult{}, err
	}
	engOpts := engine.Options{
		Persistence: store.NewSettings(store.NewMemory()),
		Resolver:    host,
		Settings:    live,
		Logger:      opts.logger,
	}
	if opts.metrics {
		engOpts.Metrics = metrics.NewCollector(true)
		engOpts.Exporter = metrics.NewExporter()
	}
	eng, err := engine.New(engOpts)
	if err != nil {
		return iterationResult{}, err
	}
	if err := eng.Start(ctx); err != nil {
		return iterationResult{}, err
	}
	defer eng.Stop()
	hook.SetEngine(eng)

	res := iterationResult{events: make([]time.Duration, 0, len(fixture.Events))}
	iterationStart := time.Now()
	for _, ev := range fixture.Events {
		if opts.respectDelays && ev.Delay > 0 {
			time.Sleep(ev.Delay)
		}
		start := time.Now()
		reply := hook.HandleLine(ctx, ev.Line)
		res.events = append(res.events, time.Since(start))
		tallyReply(&res.replies, reply)
	}
	res.duration = time.Since(iterationStart)
	return res, nil
}

func tallyReply(stats *benchReplyStats, reply string) {
	kind := ipc.ParseEvent(reply).Kind
	switch kind {
	case ipc.ReplyAllow:
		stats.Allow++
	case ipc.ReplyBlock:
		stats.Block++
	case ipc.ReplyError:
		stats.Errors++
	default:
		stats.Other++
	}
}

func buildReport(fixture benchFixture, warmup int, results []iterationResult, start, end runtime.MemStats) benchReport {
	var (
		durations          []time.Duration
		iterationDurations = make([]time.Duration, 0, len(results))
		replies            benchReplyStats
	)
	for _, res := range results {
		durations = append(durations, res.events...)
		iterationDurations = append(iterationDurations, res.duration)
		replies.Allow += res.replies.Allow
		replies.Block += res.replies.Block
		replies.Errors += res.replies.Errors
		replies.Other += res.replies.Other
	}
	totalEvents := len(durations)
	latencyStats, totalEventDuration := buildLatencyStats(durations)
	iterationStats, _ := buildLatencyStats(iterationDurations)

	allocs := end.Mallocs - start.Mallocs
	bytesAllocated := end.TotalAlloc - start.TotalAlloc

	durationsMs := make([]float64, len(durations))
	for i, d := range durations {
		durationsMs[i] = toMillis(d)
	}

	summary := benchSummary{
		Fixture:            fixture.Name,
		Iterations:         len(results),
		WarmupIterations:   warmup,
		EventsPerIteration: len(fixture.Events),
		TotalEvents:        totalEvents,
		Replies:            replies,
		Latency:            latencyStats,
		IterationDuration:  iterationStats,
		Allocations: benchAllocationStats{
			Total:         allocs,
			PerEvent:      safeDivide(float64(allocs), totalEvents),
			BytesTotal:    bytesAllocated,
			BytesPerEvent: safeDivide(float64(bytesAllocated), totalEvents),
		},
		TotalDurationMs: toMillis(totalEventDuration),
		EventsPerSecond: eventsPerSecond(totalEventDuration, totalEvents),
	}
	return benchReport{Summary: summary, DurationsMs: durationsMs}
}

func buildLatencyStats(durations []time.Duration) (benchLatencyStats, time.Duration) {
	stats := benchLatencyStats{}
	if len(durations) == 0 {
		return stats, 0
	}
	total := time.Duration(0)
	for _, d := range durations {
		total += d
	}
	mean := total / time.Duration(len(durations))
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.Min = toMillis(sorted[0])
	stats.Mean = toMillis(mean)
	stats.Median = toMillis(percentile(sorted, 0.50))
	stats.P95 = toMillis(percentile(sorted, 0.95))
	stats.Max = toMillis(sorted[len(sorted)-1])
	return stats, total
}

func safeDivide(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func writeReport(report benchReport, outputPath string) error {
	var w io.Writer
	switch strings.TrimSpace(outputPath) {
	case "", "-":
		w = os.Stdout
	default:
		dir := filepath.Dir(outputPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report dir: %w", err)
			}
		}
		out, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printHumanSummary(summary benchSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Fixture:\t%s\n", summary.Fixture)
	fmt.Fprintf(tw, "Iterations:\t%d (+%d warmup)\n", summary.Iterations, summary.WarmupIterations)
	fmt.Fprintf(tw, "Events/iteration:\t%d\n", summary.EventsPerIteration)
	fmt.Fprintf(tw, "Total events:\t%d\n", summary.TotalEvents)
	r := summary.Replies
	fmt.Fprintf(tw, "Replies:\tallow %d | block %d | error %d | other %d\n", r.Allow, r.Block, r.Errors, r.Other)
	latency := summary.Latency
	fmt.Fprintf(tw, "Latency (ms):\tmin %.4f | mean %.4f | median %.4f | p95 %.4f | max %.4f\n", latency.Min, latency.Mean, latency.Median, latency.P95, latency.Max)
	it := summary.IterationDuration
	fmt.Fprintf(tw, "Iteration duration (ms):\tmin %.3f | mean %.3f | median %.3f | p95 %.3f | max %.3f\n", it.Min, it.Mean, it.Median, it.P95, it.Max)
	allocs := summary.Allocations
	fmt.Fprintf(tw, "Allocations:\t%d total (%.2f / event)\n", allocs.Total, allocs.PerEvent)
	fmt.Fprintf(tw, "Bytes allocated:\t%d (%.2f / event)\n", allocs.BytesTotal, allocs.BytesPerEvent)
	fmt.Fprintf(tw, "Events/sec:\t%.2f\n", summary.EventsPerSecond)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

func eventsPerSecond(total time.Duration, events int) float64 {
	if total <= 0 || events == 0 {
		return 0
	}
	return float64(events) / total.Seconds()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// loadFixture reads either a JSON fixture or a plain hook event log with one
// `kind>>payload` line per event.
func loadFixture(path string) (benchFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchFixture{}, err
	}
	name := filepath.Base(path)
	if strings.ToLower(filepath.Ext(path)) == ".json" || looksLikeJSON(data) {
		var payload struct {
			Name   string `json:"name"`
			Events []struct {
				Line  string `json:"line"`
				Delay string `json:"delay"`
			} `json:"events"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return benchFixture{}, err
		}
		fixture := benchFixture{Name: fallback(payload.Name, name)}
		for _, ev := range payload.Events {
			line := strings.TrimSpace(ev.Line)
			if line == "" {
				continue
			}
			var delay time.Duration
			if ev.Delay != "" {
				d, err := time.ParseDuration(ev.Delay)
				if err != nil {
					return benchFixture{}, fmt.Errorf("parse delay %q: %w", ev.Delay, err)
				}
				delay = d
			}
			fixture.Events = append(fixture.Events, benchEvent{Line: line, Delay: delay})
		}
		if len(fixture.Events) == 0 {
			return benchFixture{}, errors.New("fixture contains no events")
		}
		return fixture, nil
	}
	events, err := parseEventLog(string(data))
	if err != nil {
		return benchFixture{}, err
	}
	return benchFixture{Name: name, Events: events}, nil
}

func looksLikeJSON(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), "{")
}

func parseEventLog(input string) ([]benchEvent, error) {
	lines := strings.Split(input, "\n")
	events := make([]benchEvent, 0, len(lines))
	for idx, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if ipc.ParseEvent(trimmed).Kind == "" {
			return nil, fmt.Errorf("line %d: missing event kind", idx+1)
		}
		events = append(events, benchEvent{Line: trimmed})
	}
	if len(events) == 0 {
		return nil, errors.New("event log produced no events")
	}
	return events, nil
}

func defaultFixture() benchFixture {
	lines := []string{
		"context>>standard",
		"keydown>>shift",
		"menu>>Cast,<col=00ff00>Varrock Teleport</col>",
		"accept>>Enable block,<col=00ff00>Varrock Teleport</col>",
		"keyup>>shift",
		"attempt>>direct,0,Varrock Teleport",
		"attempt>>direct,0,Grand Exchange Varrock Teleport",
		"attempt>>menu,1,Varrock Teleport",
		"attempt>>other,0,Walk here",
		"attempt>>direct,0,High Level Alchemy",
		"animation>>local,713",
		"keydown>>ctrl",
		"attempt>>direct,0,Varrock Teleport",
		"keyup>>ctrl",
		"context>>lunar",
		"attempt>>direct,0,Moonclan Teleport",
	}
	events := make([]benchEvent, len(lines))
	for i, line := range lines {
		events[i] = benchEvent{Line: line}
	}
	return benchFixture{Name: "synthetic-standard", Events: events}
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return def
}

func exitErr(err error) {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		fmt.Fprintf(os.Stderr, "error: %v\n", pathErr)
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
