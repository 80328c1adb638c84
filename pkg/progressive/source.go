package progressive

import (
	"context"
	"errors"
	"io"
	"sync"
)

const defaultChunkSize = 32 * 1024

// Chunk is one unit of bytes produced by a ByteSource. Done marks the end of
// the stream; a Done chunk may still carry trailing data.
type Chunk struct {
	Data []byte
	Done bool
}

// ByteSource produces chunks on demand. Read must not be called again after
// it returned a Done chunk or an error.
type ByteSource interface {
	Read(ctx context.Context) (Chunk, error)
	Close() error
}

// Opener turns a resource locator into an open ByteSource.
type Opener interface {
	Open(ctx context.Context, locator string) (ByteSource, error)
}

// StreamSource is the exclusive handle a Scheduler holds over a ByteSource.
// It refuses reads past the end of the stream so the producer is never
// asked for more than it has.
type StreamSource struct {
	mu        sync.Mutex
	src       ByteSource
	exhausted bool
	released  bool
	lastErr   error
	read      int64
}

func NewStreamSource(src ByteSource) *StreamSource {
	return &StreamSource{src: src}
}

// Next returns the next chunk from the underlying source.
func (s *StreamSource) Next(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	switch {
	case s.released:
		s.mu.Unlock()
		return Chunk{}, ErrSourceReleased
	case s.exhausted:
		s.mu.Unlock()
		return Chunk{}, ErrSourceExhausted
	case s.lastErr != nil:
		err := s.lastErr
		s.mu.Unlock()
		return Chunk{}, err
	}
	s.mu.Unlock()

	c, err := s.src.Read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		return Chunk{}, err
	}
	s.read += int64(len(c.Data))
	if c.Done {
		s.exhausted = true
	}
	return c, nil
}

func (s *StreamSource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// Err returns the last read error, if any.
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// BytesRead is the total payload handed out by Next.
func (s *StreamSource) BytesRead() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read
}

// Release closes the underlying source. It reports whether the source was
// cancelled before it was exhausted. Only the first call has any effect.
func (s *StreamSource) Release() (cancelled bool, err error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return false, nil
	}
	s.released = true
	cancelled = !s.exhausted
	s.mu.Unlock()

	return cancelled, s.src.Close()
}

// ReaderSource adapts an io.ReadCloser, such as an HTTP response body, into
// a ByteSource. Blocking reads are unblocked by closing the reader or by
// cancelling the request context the reader was opened with.
type ReaderSource struct {
	rc   io.ReadCloser
	size int
}

func NewReaderSource(rc io.ReadCloser, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &ReaderSource{rc: rc, size: chunkSize}
}

func (r *ReaderSource) Read(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	buf := make([]byte, r.size)
	for {
		n, err := r.rc.Read(buf)
		if errors.Is(err, io.EOF) {
			return Chunk{Data: buf[:n], Done: true}, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Chunk{}, ctxErr
			}
			return Chunk{}, err
		}
		if n > 0 {
			return Chunk{Data: buf[:n]}, nil
		}
	}
}

func (r *ReaderSource) Close() error {
	return r.rc.Close()
}

// ChannelSource is a ByteSource fed by an already-open stream that pushes
// bytes through Write. Close on the writing side ends the stream.
type ChannelSource struct {
	sync.Mutex
	dataChan chan []byte
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

func NewChannelSource(capacity int) *ChannelSource {
	return &ChannelSource{
		dataChan: make(chan []byte, capacity),
		done:     make(chan struct{}),
	}
}

// Write queues a copy of p. It blocks while the queue is full and fails once
// the reading side has been closed.
func (cs *ChannelSource) Write(p []byte) (n int, err error) {
	cs.Lock()
	defer cs.Unlock()

	if cs.closed {
		return 0, io.ErrClosedPipe
	}

	b := make([]byte, len(p))
	copy(b, p)

	select {
	case cs.dataChan <- b:
	case <-cs.done:
		return 0, io.ErrClosedPipe
	}

	return len(p), nil
}

// CloseWrite marks the end of the pushed stream.
func (cs *ChannelSource) CloseWrite() error {
	cs.Lock()
	defer cs.Unlock()

	if !cs.closed {
		close(cs.dataChan)
		cs.closed = true
	}

	return nil
}

func (cs *ChannelSource) Read(ctx context.Context) (Chunk, error) {
	select {
	case <-cs.done:
		return Chunk{}, io.ErrClosedPipe
	default:
	}

	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case <-cs.done:
		return Chunk{}, io.ErrClosedPipe
	case b, ok := <-cs.dataChan:
		if !ok {
			return Chunk{Done: true}, nil
		}
		return Chunk{Data: b}, nil
	}
}

// Close releases the reading side; pending and future writes fail.
func (cs *ChannelSource) Close() error {
	cs.doneOnce.Do(func() { close(cs.done) })
	return nil
}
