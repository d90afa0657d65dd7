package ipc

import (
	"errors"
	"testing"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/engine"
)

func TestParseEvent(t *testing.T) {
	cases := []struct {
		line string
		want Event
	}{
		{line: "ping", want: Event{Kind: "ping"}},
		{line: "KEYDOWN>>ctrl\r\n", want: Event{Kind: "keydown", Payload: "ctrl"}},
		{line: "attempt>>direct,0,a>>b", want: Event{Kind: "attempt", Payload: "direct,0,a>>b"}},
	}
	for _, tc := range cases {
		if got := ParseEvent(tc.line); got != tc.want {
			t.Fatalf("ParseEvent(%q) = %#v, want %#v", tc.line, got, tc.want)
		}
	}
	if s := (Event{Kind: "block", Payload: "x"}).String(); s != "block>>x" {
		t.Fatalf("unexpected wire form %q", s)
	}
}

func TestParseAttempt(t *testing.T) {
	got, err := ParseAttempt("menu,1,Teleport, to, House")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := engine.Attempt{Label: "Teleport, to, House", Channel: engine.ChannelMenu, MenuOpen: true}
	if got != want {
		t.Fatalf("unexpected attempt %#v", got)
	}
	if got, _ := ParseAttempt("walk,0,Here"); got.Channel != engine.ChannelOther {
		t.Fatalf("unknown channel should map to other, got %q", got.Channel)
	}
}

func TestParseAnimation(t *testing.T) {
	id, local, err := ParseAnimation("local, 713")
	if err != nil || id != 713 || !local {
		t.Fatalf("unexpected parse: id=%d local=%v err=%v", id, local, err)
	}
	if _, local, _ := ParseAnimation("remote,712"); local {
		t.Fatalf("remote actor must not be local")
	}
}

func TestHostContext(t *testing.T) {
	live := config.NewLive(config.Default())
	host := NewHostContext(live)

	if _, err := host.CurrentContext(); !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext before any report, got %v", err)
	}
	if err := host.Report("2"); err != nil {
		t.Fatalf("report index: %v", err)
	}
	if name, _ := host.CurrentContext(); name != "lunar" {
		t.Fatalf("expected lunar, got %q", name)
	}
	if err := host.Report("ANCIENT"); err != nil {
		t.Fatalf("report name: %v", err)
	}
	if name, _ := host.CurrentContext(); name != "ancient" {
		t.Fatalf("expected configured spelling, got %q", name)
	}
	if err := host.Report("9"); !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected out of range index to be rejected, got %v", err)
	}
	if name, _ := host.CurrentContext(); name != "ancient" {
		t.Fatalf("rejected report must keep the previous context, got %q", name)
	}

	next := config.Default()
	next.Contexts = []string{"standard"}
	live.Store(next)
	if _, err := host.CurrentContext(); !errors.Is(err, ErrNoContext) {
		t.Fatalf("context dropped by reload should resolve to ErrNoContext, got %v", err)
	}
	host.Clear()
	if _, err := host.CurrentContext(); !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext after clear, got %v", err)
	}
}
