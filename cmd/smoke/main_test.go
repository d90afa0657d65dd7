package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/util"
)

func TestRunDefaultScript(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: config.DriverMemory}

	var out bytes.Buffer
	if err := run(context.Background(), cfg, util.NewNopLogger(), strings.NewReader(defaultScript), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"-> offer>>Enable block",
		"-> block>>Hold CTRL to use this teleport!",
		"message: Hold CTRL to use this teleport!",
		"(menu-exempt)",
		"(guard-held)",
		`"context": "standard"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "-> error") {
		t.Fatalf("unexpected error reply:\n%s", got)
	}
}

func TestRunReportsMalformedLines(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: config.DriverMemory}

	var out bytes.Buffer
	script := "ping\nattempt>>direct\n"
	if err := run(context.Background(), cfg, util.NewNopLogger(), strings.NewReader(script), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "-> pong") || !strings.Contains(out.String(), "-> error>>") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
