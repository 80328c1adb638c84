package progressive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeBuffer records appends and fails loudly on append-while-updating.
type fakeBuffer struct {
	mu         sync.Mutex
	ready      chan struct{}
	readyOnce  sync.Once
	updating   bool
	pending    chan error
	appends    [][]byte
	events     []string
	ended      int
	endErr     error
	aborts     int
	violations int

	// manual completions are driven by complete().
	manual bool
	// delay returns how long the i-th append takes to complete.
	delay func(i int) time.Duration
	// rejectAt makes the i-th Append fail synchronously.
	rejectAt int
	// failAt makes the i-th append complete with an error.
	failAt int
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{
		ready:    make(chan struct{}),
		rejectAt: -1,
		failAt:   -1,
	}
}

func (f *fakeBuffer) open() {
	f.readyOnce.Do(func() { close(f.ready) })
}

func (f *fakeBuffer) Ready() <-chan struct{} { return f.ready }

func (f *fakeBuffer) Append(p []byte) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updating {
		f.violations++
		return nil, ErrAppendWhileUpdating
	}
	i := len(f.appends)
	if i == f.rejectAt {
		f.events = append(f.events, "reject")
		return nil, errors.New("decoder rejected chunk")
	}

	b := make([]byte, len(p))
	copy(b, p)
	f.appends = append(f.appends, b)
	f.events = append(f.events, "append")
	f.updating = true

	ch := make(chan error, 1)
	f.pending = ch

	if !f.manual {
		var err error
		if i == f.failAt {
			err = errors.New("decode failed")
		}
		var d time.Duration
		if f.delay != nil {
			d = f.delay(i)
		}
		go func() {
			time.Sleep(d)
			f.finish(ch, err)
		}()
	}

	return ch, nil
}

// complete finishes the outstanding append in manual mode.
func (f *fakeBuffer) complete(err error) {
	f.mu.Lock()
	ch := f.pending
	f.mu.Unlock()
	if ch != nil {
		f.finish(ch, err)
	}
}

func (f *fakeBuffer) finish(ch chan error, err error) {
	f.mu.Lock()
	if f.pending != ch {
		f.mu.Unlock()
		return
	}
	f.pending = nil
	f.updating = false
	f.events = append(f.events, "complete")
	f.mu.Unlock()
	ch <- err
}

func (f *fakeBuffer) Abort() {
	f.mu.Lock()
	f.aborts++
	ch := f.pending
	f.pending = nil
	f.updating = false
	f.events = append(f.events, "abort")
	f.mu.Unlock()
	if ch != nil {
		ch <- ErrAborted
	}
}

func (f *fakeBuffer) Updating() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updating
}

func (f *fakeBuffer) EndOfStream(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	f.endErr = err
	f.events = append(f.events, "end")
}

func (f *fakeBuffer) snapshot() (appends [][]byte, events []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.appends...), append([]string(nil), f.events...)
}

func (f *fakeBuffer) counts() (ended, aborts, violations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended, f.aborts, f.violations
}

// scriptedSource yields its chunks in order. A read at errAt fails; a read
// at blockAt waits for the context.
type scriptedSource struct {
	mu       sync.Mutex
	chunks   []Chunk
	errAt    int
	blockAt  int
	reads    int
	overRead int
	closed   int
}

func newScriptedSource(chunks ...Chunk) *scriptedSource {
	return &scriptedSource{chunks: chunks, errAt: -1, blockAt: -1}
}

func dataChunks(parts ...string) []Chunk {
	chunks := make([]Chunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, Chunk{Data: []byte(p)})
	}
	return append(chunks, Chunk{Done: true})
}

func (s *scriptedSource) Read(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	i := s.reads
	s.reads++
	if i >= len(s.chunks) {
		s.overRead++
		s.mu.Unlock()
		return Chunk{}, errors.New("read past end of script")
	}
	c, errAt, blockAt := s.chunks[i], s.errAt, s.blockAt
	s.mu.Unlock()

	if i == errAt {
		return Chunk{}, errors.New("connection reset")
	}
	if i == blockAt {
		<-ctx.Done()
		return Chunk{}, ctx.Err()
	}
	return c, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *scriptedSource) counts() (reads, overRead, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.overRead, s.closed
}

type fakeEnv struct {
	mu        sync.Mutex
	supported bool
	newErr    error
	configure func(*fakeBuffer)
	buffers   []*fakeBuffer
}

func (e *fakeEnv) Supports(string) bool { return e.supported }

func (e *fakeEnv) NewSourceBuffer(string) (SourceBuffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	fb := newFakeBuffer()
	if e.configure != nil {
		e.configure(fb)
	}
	e.buffers = append(e.buffers, fb)
	return fb, nil
}

func (e *fakeEnv) buffer(i int) *fakeBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.buffers) {
		return nil
	}
	return e.buffers[i]
}

func (e *fakeEnv) created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers)
}

// fakeSink opens bound fake buffers unless holdReady is set.
type fakeSink struct {
	mu        sync.Mutex
	holdReady bool
	directErr error
	bound     int
	direct    []string
	unbinds   int
	onError   func(error)
}

func (s *fakeSink) BindBuffer(sb SourceBuffer, onError func(error)) error {
	s.mu.Lock()
	s.bound++
	s.onError = onError
	hold := s.holdReady
	s.mu.Unlock()

	if fb, ok := sb.(*fakeBuffer); ok && !hold {
		fb.open()
	}
	return nil
}

func (s *fakeSink) BindDirect(locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.directErr != nil {
		return s.directErr
	}
	s.direct = append(s.direct, locator)
	return nil
}

func (s *fakeSink) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbinds++
}

func (s *fakeSink) state() (bound int, direct []string, unbinds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound, append([]string(nil), s.direct...), s.unbinds
}

func (s *fakeSink) reportError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

type fakeOpener struct {
	mu      sync.Mutex
	sources map[string]*scriptedSource
	err     error
	opened  []string
}

func (o *fakeOpener) Open(_ context.Context, locator string) (ByteSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, locator)
	if o.err != nil {
		return nil, o.err
	}
	src, ok := o.sources[locator]
	if !ok {
		return nil, errors.New("not found")
	}
	return src, nil
}
