// Package batch decides, after each task, whether a batch keeps going.
package batch

import (
	"sync"

	"github.com/desertthunder/ytq/internal/failures"
)

// DefaultStopThreshold is the number of consecutive transient failures that stops a batch.
const DefaultStopThreshold = 3

// Decision is the handler's verdict for one task outcome.
type Decision int

const (
	Continue Decision = iota
	SkipCurrent
	StopAll
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "CONTINUE"
	case SkipCurrent:
		return "SKIP_CURRENT"
	case StopAll:
		return "STOP_ALL"
	default:
		return "UNKNOWN"
	}
}

// Handler tracks consecutive transient failures across tasks.
//
// Rate limits that survived local retries share the counter with server and network errors.
type Handler struct {
	threshold int

	mu          sync.Mutex
	consecutive int
	last        string
}

// NewHandler creates a Handler. A threshold below 1 uses [DefaultStopThreshold].
func NewHandler(threshold int) *Handler {
	if threshold < 1 {
		threshold = DefaultStopThreshold
	}
	return &Handler{threshold: threshold}
}

// Decide returns the verdict for taskID's outcome. A nil error is a success.
func (h *Handler) Decide(taskID string, ce *failures.ClassifiedError) Decision {
	if ce == nil {
		h.RecordSuccess()
		return Continue
	}

	switch ce.Category {
	case failures.QuotaExceeded, failures.PermissionDenied:
		return StopAll
	case failures.NotFound, failures.InvalidRequest:
		return SkipCurrent
	default:
		h.mu.Lock()
		defer h.mu.Unlock()

		h.consecutive++
		h.last = taskID
		if h.consecutive >= h.threshold {
			return StopAll
		}
		return SkipCurrent
	}
}

// RecordSuccess resets the consecutive failure counter.
func (h *Handler) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive = 0
	h.last = ""
}

// Consecutive returns the current consecutive transient failure count.
func (h *Handler) Consecutive() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive
}

// Threshold returns the configured stop threshold.
func (h *Handler) Threshold() int {
	return h.threshold
}

// LastFailed returns the task ID of the most recent transient failure since the last success.
func (h *Handler) LastFailed() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
