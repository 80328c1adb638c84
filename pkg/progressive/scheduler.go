package progressive

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Scheduler pulls chunks from a StreamSource and appends them to a Handle,
// one at a time. The completion of append n is always observed before append
// n+1 is dispatched.
type Scheduler struct {
	src     *StreamSource
	buf     *Handle
	logger  *slog.Logger
	metrics *Metrics

	pending  <-chan error
	appended atomic.Int64
	bytes    atomic.Int64
}

func NewScheduler(src *StreamSource, buf *Handle, logger *slog.Logger, metrics *Metrics) *Scheduler {
	return &Scheduler{
		src:     src,
		buf:     buf,
		logger:  logger,
		metrics: metrics,
	}
}

// Run drives the pull/append loop until the source is exhausted, an error
// occurs, or ctx is cancelled. It returns nil after ending the buffer
// normally, a *SourceReadError or *BufferAppendError after ending it with the
// error flag, and ctx.Err() on cancellation. On cancellation the buffer is
// not ended; an outstanding append is aborted.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c, err := s.src.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			readErr := &SourceReadError{Err: err}
			s.buf.End(readErr)
			return readErr
		}

		if len(c.Data) > 0 {
			if err := s.appendChunk(ctx, c.Data); err != nil {
				return err
			}
		}

		if c.Done {
			s.buf.End(nil)
			s.logger.Debug("stream exhausted", "chunks", s.appended.Load(), "bytes", s.bytes.Load())
			return nil
		}
	}
}

func (s *Scheduler) appendChunk(ctx context.Context, p []byte) error {
	if s.buf.Updating() {
		if err := s.await(ctx); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done, err := s.buf.append(p)
	if err != nil {
		appendErr := &BufferAppendError{Chunk: int(s.appended.Load()), Err: err}
		s.buf.End(appendErr)
		return appendErr
	}
	s.pending = done

	if err := s.await(ctx); err != nil {
		return err
	}

	s.appended.Add(1)
	s.bytes.Add(int64(len(p)))
	s.metrics.appended(len(p))
	return nil
}

// await blocks until the outstanding append completes.
func (s *Scheduler) await(ctx context.Context) error {
	if s.pending == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		s.buf.Abort()
		s.pending = nil
		return ctx.Err()
	case err := <-s.pending:
		s.pending = nil
		if err != nil {
			appendErr := &BufferAppendError{Chunk: int(s.appended.Load()), Err: err}
			s.buf.End(appendErr)
			return appendErr
		}
		return nil
	}
}

// Appended is the number of chunks whose append completed.
func (s *Scheduler) Appended() int {
	return int(s.appended.Load())
}

// BytesAppended is the payload of all completed appends.
func (s *Scheduler) BytesAppended() int64 {
	return s.bytes.Load()
}
