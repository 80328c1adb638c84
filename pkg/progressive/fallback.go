package progressive

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Mode is how a session feeds the sink.
type Mode int

const (
	ModeProgressive Mode = iota
	ModeDirect
)

func (m Mode) String() string {
	if m == ModeDirect {
		return "direct-fallback"
	}
	return "progressive"
}

// Fallback switches a session from progressive to direct playback. The
// switch is one-way and happens at most once.
type Fallback struct {
	mu        sync.Mutex
	locator   string
	sink      Sink
	logger    *slog.Logger
	metrics   *Metrics
	mode      Mode
	triggered bool
	disarmed  bool
	handle    *Handle
	cause     error
}

func NewFallback(locator string, sink Sink, logger *slog.Logger, metrics *Metrics) *Fallback {
	return &Fallback{
		locator: locator,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
	}
}

// Probe reports whether env can buffer mimeType progressively.
func (f *Fallback) Probe(env Environment, mimeType string) bool {
	return env != nil && env.Supports(mimeType)
}

// Attach sets the handle that Trigger ends.
func (f *Fallback) Attach(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handle = h
}

// Trigger ends the attached handle with cause and binds the sink to the
// locator. Calls after the first are logged and ignored. The returned error
// wraps ErrTotalFailure when direct playback is impossible.
func (f *Fallback) Trigger(cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disarmed {
		return nil
	}
	if f.triggered {
		f.logger.Debug("fallback already applied, ignoring", "err", cause, "first", f.cause)
		return nil
	}
	f.triggered = true
	f.mode = ModeDirect
	f.cause = cause

	if f.handle != nil {
		f.handle.End(cause)
	}

	if f.locator == "" {
		f.metrics.failed()
		f.logger.Error("no resource locator to fall back to", "err", cause)
		return fmt.Errorf("%w: %w", ErrTotalFailure, cause)
	}

	if err := f.sink.BindDirect(f.locator); err != nil {
		f.metrics.failed()
		f.logger.Error("direct playback failed", "err", err, "cause", cause, "locator", f.locator)
		return fmt.Errorf("%w: bind direct: %w", ErrTotalFailure, err)
	}

	reason := fallbackReason(cause)
	f.metrics.fellBack(reason)
	f.logger.Warn("falling back to direct playback", "reason", reason, "err", cause, "locator", f.locator)
	return nil
}

// Disarm makes later Triggers no-ops. It waits for a Trigger in progress.
func (f *Fallback) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmed = true
}

func (f *Fallback) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Cause is the error that triggered the fallback.
func (f *Fallback) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause
}

func fallbackReason(err error) string {
	var (
		readErr   *SourceReadError
		appendErr *BufferAppendError
		decodeErr *DecodeError
	)
	switch {
	case errors.Is(err, ErrUnsupportedEnvironment):
		return "unsupported"
	case errors.As(err, &readErr):
		return "source_read"
	case errors.As(err, &appendErr):
		return "buffer_append"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "setup"
	}
}
