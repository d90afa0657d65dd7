package engine

import "time"

const decisionHistoryLimit = 256

// DecisionRecord captures one evaluated attempt.
type DecisionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label"`
	Channel   Channel   `json:"channel"`
	Verdict   Verdict   `json:"verdict"`
}

// decisionLog is a fixed-size ring; the oldest record is overwritten.
type decisionLog struct {
	buf      []DecisionRecord
	start    int
	count    int
	capacity int
}

func newDecisionLog(limit int) *decisionLog {
	if limit <= 0 {
		limit = decisionHistoryLimit
	}
	return &decisionLog{
		buf:      make([]DecisionRecord, limit),
		capacity: limit,
	}
}

func (h *decisionLog) add(record DecisionRecord) {
	if h == nil || h.capacity == 0 {
		return
	}
	if h.count < h.capacity {
		idx := (h.start + h.count) % h.capacity
		h.buf[idx] = record
		h.count++
		return
	}
	h.buf[h.start] = record
	h.start = (h.start + 1) % h.capacity
}

func (h *decisionLog) snapshot() []DecisionRecord {
	if h == nil || h.count == 0 {
		return nil
	}
	out := make([]DecisionRecord, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.start+i)%h.capacity]
	}
	return out
}

// History returns recorded decisions, oldest first. It survives Stop so the
// control socket can still explain what happened before a restart.
func (e *Engine) History() []DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.snapshot()
}
