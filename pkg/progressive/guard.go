package progressive

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMimeType = "audio/mpeg"
	tracerName      = "github.com/zachfi/streamplay/pkg/progressive"
)

// ErrGuardClosed is returned by Load after Close.
var ErrGuardClosed = errors.New("guard closed")

// GuardConfig holds the collaborators a Guard binds sessions to.
type GuardConfig struct {
	// MimeType of the buffers to create when a Resource does not name one.
	MimeType    string
	Environment Environment
	Sink        Sink
	Opener      Opener
	Metrics     *Metrics
	Tracer      trace.Tracer
}

// Guard owns the session bound to a sink. Replacing or unloading a session
// tears the previous one down completely before anything else touches the
// sink.
type Guard struct {
	cfg    GuardConfig
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
	closed  bool
}

func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.MimeType == "" {
		cfg.MimeType = defaultMimeType
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Guard{
		cfg:    cfg,
		logger: logger,
	}
}

// Load tears down the current session and starts one for res. It returns
// ErrTotalFailure without touching the sink when res has neither a locator
// nor a source. The session outlives ctx; only its trace is parented on it.
func (g *Guard) Load(ctx context.Context, res Resource) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGuardClosed
	}

	g.teardownLocked()

	if res.Locator == "" && res.Source == nil {
		g.cfg.Metrics.failed()
		g.logger.Error("nothing to play", "err", ErrTotalFailure)
		return nil, ErrTotalFailure
	}

	mimeType := res.MimeType
	if mimeType == "" {
		mimeType = g.cfg.MimeType
	}

	id := newSessionID()
	logger := g.logger.With("session", id)
	s := &Session{
		ID:       id,
		Locator:  res.Locator,
		mimeType: mimeType,
		env:      g.cfg.Environment,
		sink:     g.cfg.Sink,
		opener:   g.cfg.Opener,
		logger:   logger,
		metrics:  g.cfg.Metrics,
		tracer:   g.cfg.Tracer,
		fallback: NewFallback(res.Locator, g.cfg.Sink, logger, g.cfg.Metrics),
		done:     make(chan struct{}),
	}
	if res.Source != nil {
		s.source = NewStreamSource(res.Source)
	}

	sCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	g.current = s
	g.cfg.Metrics.started()

	logger.Info("starting playback session", "locator", res.Locator, "mime_type", mimeType)
	go s.run(sCtx)

	return s, nil
}

// Unload tears down the current session, if any.
func (g *Guard) Unload() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.teardownLocked()
}

// Current returns the active session or nil.
func (g *Guard) Current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Close tears down the current session and rejects further loads.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.teardownLocked()
	g.closed = true
	return nil
}

func (g *Guard) teardownLocked() {
	s := g.current
	if s == nil {
		return
	}
	g.current = nil

	s.cancel()
	<-s.done
	s.fallback.Disarm()
	g.cfg.Sink.Unbind()

	g.cfg.Metrics.tornDown(s.fallback.Mode().String())
	s.logger.Info("playback session torn down", "mode", s.fallback.Mode())
}
