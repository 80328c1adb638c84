package progressive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Resource identifies what a session plays. Source, when set, is an
// already-open stream used instead of opening Locator; Locator is still used
// for direct playback if the stream fails.
type Resource struct {
	Locator  string
	Source   ByteSource
	MimeType string
}

// Status is a point-in-time view of a Session.
type Status struct {
	ID             string `json:"id"`
	Locator        string `json:"locator,omitempty"`
	Mode           string `json:"mode"`
	ReadyState     string `json:"ready_state"`
	Terminal       bool   `json:"terminal"`
	ChunksAppended int    `json:"chunks_appended"`
	BytesAppended  int64  `json:"bytes_appended"`
	Cause          string `json:"cause,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Session binds one StreamSource to one Handle for one resource.
type Session struct {
	ID       string
	Locator  string
	mimeType string

	env      Environment
	sink     Sink
	opener   Opener
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	fallback *Fallback

	cancel context.CancelFunc
	done   chan struct{}
	// stopPipeline ends the progressive pipeline without tearing the
	// session down. It is called once the fallback has taken over.
	stopPipeline context.CancelFunc

	mu        sync.Mutex
	handle    *Handle
	source    *StreamSource
	scheduler *Scheduler
	err       error
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ctx, span := s.tracer.Start(ctx, "progressive.Session", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("locator", s.Locator),
	))
	defer span.End()

	err := s.play(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.setErr(err)
	} else {
		err = s.Err()
	}
	span.SetAttributes(attribute.String("mode", s.fallback.Mode().String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("playback session failed", "err", err)
	}
}

func (s *Session) play(ctx context.Context) error {
	defer s.cleanup(ctx)

	// pctx scopes the source and scheduler. It ends with ctx, or earlier when
	// a decode error hands playback to the fallback.
	pctx, stop := context.WithCancel(ctx)
	defer stop()
	s.mu.Lock()
	s.stopPipeline = stop
	s.mu.Unlock()

	if !s.fallback.Probe(s.env, s.mimeType) {
		s.logger.Info("progressive buffering unavailable", "mime_type", s.mimeType)
		return s.fallback.Trigger(ErrUnsupportedEnvironment)
	}

	sb, err := s.env.NewSourceBuffer(s.mimeType)
	if err != nil {
		return s.fallback.Trigger(fmt.Errorf("create source buffer: %w", err))
	}
	h := NewHandle(sb)
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	s.fallback.Attach(h)

	if err := s.sink.BindBuffer(sb, s.decodeFailed(ctx)); err != nil {
		return s.fallback.Trigger(fmt.Errorf("bind source buffer: %w", err))
	}

	select {
	case <-pctx.Done():
		return ctx.Err()
	case <-h.Ready():
	}
	if !h.Open() {
		// The fallback ended the buffer before the sink attached it.
		s.logger.Debug("playback buffer ended before opening", "cause", s.fallback.Cause())
		return nil
	}

	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src == nil {
		bs, err := s.opener.Open(pctx, s.Locator)
		if err != nil {
			if pctx.Err() != nil {
				return ctx.Err()
			}
			return s.fallback.Trigger(&SourceReadError{Err: err})
		}
		src = NewStreamSource(bs)
		s.mu.Lock()
		s.source = src
		s.mu.Unlock()
	}

	sched := NewScheduler(src, h, s.logger, s.metrics)
	s.mu.Lock()
	s.scheduler = sched
	s.mu.Unlock()

	s.logger.Debug("streaming into playback buffer")
	err = sched.Run(pctx)
	switch {
	case err == nil:
		s.logger.Info("stream complete", "chunks", sched.Appended(), "bytes", sched.BytesAppended())
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case pctx.Err() != nil:
		s.logger.Debug("progressive pipeline stopped by fallback", "chunks", sched.Appended())
		return nil
	default:
		return s.fallback.Trigger(err)
	}
}

func (s *Session) decodeFailed(ctx context.Context) func(error) {
	return func(err error) {
		if ctx.Err() != nil {
			return
		}
		if ferr := s.fallback.Trigger(&DecodeError{Err: err}); ferr != nil {
			s.setErr(ferr)
		}

		s.mu.Lock()
		stop := s.stopPipeline
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
}

// cleanup runs on every exit path of play. A torn down session ends its
// buffer so the decoder behind it stops waiting for data.
func (s *Session) cleanup(ctx context.Context) {
	s.mu.Lock()
	h, src := s.handle, s.source
	s.mu.Unlock()

	if h != nil {
		h.Abort()
		if ctx.Err() != nil {
			h.End(ErrTornDown)
		}
	}
	if src != nil {
		cancelled, err := src.Release()
		if err != nil {
			s.logger.Warn("error releasing stream source", "err", err)
		}
		if cancelled {
			s.logger.Debug("stream source cancelled before exhaustion", "bytes", src.BytesRead())
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err is the unrecoverable error of the session, if any. It wraps
// ErrTotalFailure.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Mode() Mode {
	return s.fallback.Mode()
}

// Done is closed when the session has stopped feeding the buffer. The sink
// may still be playing what it received.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Done or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Session) terminal() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) Status() Status {
	st := Status{
		ID:         s.ID,
		Locator:    s.Locator,
		Mode:       s.fallback.Mode().String(),
		ReadyState: StateClosed.String(),
		Terminal:   s.terminal(),
	}

	s.mu.Lock()
	h, sched, err := s.handle, s.scheduler, s.err
	s.mu.Unlock()

	if h != nil {
		st.ReadyState = h.ReadyState().String()
	}
	if sched != nil {
		st.ChunksAppended = sched.Appended()
		st.BytesAppended = sched.BytesAppended()
	}
	if cause := s.fallback.Cause(); cause != nil {
		st.Cause = cause.Error()
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

func newSessionID() string {
	return uuid.NewString()
}
