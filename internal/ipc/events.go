package ipc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/castguard/castguard/internal/engine"
)

// Inbound event kinds sent by the host.
const (
	KindKeyDown   = "keydown"
	KindKeyUp     = "keyup"
	KindContext   = "context"
	KindAttempt   = "attempt"
	KindMenu      = "menu"
	KindAccept    = "accept"
	KindAnimation = "animation"
	KindPing      = "ping"
)

// Reply and unsolicited line kinds written by the daemon.
const (
	ReplyAllow   = "allow"
	ReplyBlock   = "block"
	ReplyOffer   = "offer"
	ReplyNone    = "none"
	ReplyOK      = "ok"
	ReplyError   = "error"
	ReplyPong    = "pong"
	KindMessage  = "message"
	lineSplitter = ">>"
)

// Event is a single `kind>>payload` line.
type Event struct {
	Kind    string
	Payload string
}

// ParseEvent splits a raw line. A line without a separator is a bare kind.
func ParseEvent(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, lineSplitter, 2)
	ev := Event{Kind: strings.ToLower(strings.TrimSpace(parts[0]))}
	if len(parts) == 2 {
		ev.Payload = parts[1]
	}
	return ev
}

// String renders the event in wire form.
func (e Event) String() string {
	if e.Payload == "" {
		return e.Kind
	}
	return e.Kind + lineSplitter + e.Payload
}

var errMalformed = errors.New("malformed payload")

// ParseAttempt decodes `channel,menuOpen,label`. The label keeps any commas.
func ParseAttempt(payload string) (engine.Attempt, error) {
	parts := strings.SplitN(payload, ",", 3)
	if len(parts) != 3 {
		return engine.Attempt{}, fmt.Errorf("%w: attempt wants channel,menuOpen,label", errMalformed)
	}
	menuOpen, err := parseFlag(parts[1])
	if err != nil {
		return engine.Attempt{}, err
	}
	return engine.Attempt{
		Label:    parts[2],
		Channel:  engine.ParseChannel(parts[0]),
		MenuOpen: menuOpen,
	}, nil
}

// ParseOptionLabel decodes `option,label` used by menu and accept events.
func ParseOptionLabel(payload string) (string, string, error) {
	option, label, ok := strings.Cut(payload, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: want option,label", errMalformed)
	}
	return strings.TrimSpace(option), label, nil
}

// ParseAnimation decodes `local,712` or `remote,712`.
func ParseAnimation(payload string) (int, bool, error) {
	who, rawID, ok := strings.Cut(payload, ",")
	if !ok {
		return 0, false, fmt.Errorf("%w: animation wants actor,id", errMalformed)
	}
	id, err := strconv.Atoi(strings.TrimSpace(rawID))
	if err != nil {
		return 0, false, fmt.Errorf("%w: animation id %q", errMalformed, rawID)
	}
	return id, strings.EqualFold(strings.TrimSpace(who), "local"), nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return true, nil
	case "0", "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: flag %q", errMalformed, s)
	}
}

// sanitizeLine keeps replies on a single line.
func sanitizeLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
