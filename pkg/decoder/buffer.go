package decoder

import (
	"errors"
	"io"
	"mime"
	"sync"

	"github.com/zachfi/streamplay/pkg/progressive"
)

var errBufferEnded = errors.New("source buffer ended")

var supportedTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/mp3":  true,
}

// Environment creates MP3Buffers. A disabled environment supports nothing,
// which forces sessions into direct playback.
type Environment struct {
	enabled bool
}

func NewEnvironment(enabled bool) *Environment {
	return &Environment{enabled: enabled}
}

func (e *Environment) Supports(mimeType string) bool {
	if !e.enabled {
		return false
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return supportedTypes[mt]
}

func (e *Environment) NewSourceBuffer(mimeType string) (progressive.SourceBuffer, error) {
	if !e.Supports(mimeType) {
		return nil, progressive.ErrUnsupportedEnvironment
	}
	return newMP3Buffer(), nil
}

// MP3Buffer is a progressive.SourceBuffer feeding an MP3 decoder through a
// pipe. Abort closes the pipe, so an aborted buffer takes no more data.
type MP3Buffer struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	updating bool
	pending  chan error
	ended    bool
}

func newMP3Buffer() *MP3Buffer {
	pr, pw := io.Pipe()
	return &MP3Buffer{
		pr:    pr,
		pw:    pw,
		ready: make(chan struct{}),
	}
}

func (b *MP3Buffer) Append(p []byte) (<-chan error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return nil, errBufferEnded
	}
	if b.updating {
		return nil, progressive.ErrAppendWhileUpdating
	}

	b.updating = true
	done := make(chan error, 1)
	b.pending = done

	go func() {
		_, err := b.pw.Write(p)
		b.complete(done, err)
	}()

	return done, nil
}

func (b *MP3Buffer) complete(done chan error, err error) {
	b.mu.Lock()
	if b.pending != done {
		b.mu.Unlock()
		return
	}
	b.pending = nil
	b.updating = false
	b.mu.Unlock()

	done <- err
}

func (b *MP3Buffer) Abort() {
	b.mu.Lock()
	done := b.pending
	b.pending = nil
	b.updating = false
	b.mu.Unlock()

	if done == nil {
		return
	}
	_ = b.pw.CloseWithError(progressive.ErrAborted)
	done <- progressive.ErrAborted
}

func (b *MP3Buffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// EndOfStream closes the decoder's input: cleanly when err is nil, with err
// otherwise.
func (b *MP3Buffer) EndOfStream(err error) {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return
	}
	b.ended = true
	b.mu.Unlock()

	if err == nil {
		_ = b.pw.Close()
		return
	}
	_ = b.pw.CloseWithError(err)
}

func (b *MP3Buffer) Ready() <-chan struct{} {
	return b.ready
}

func (b *MP3Buffer) attach() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// reader is the decoder side of the pipe.
func (b *MP3Buffer) reader() *io.PipeReader {
	return b.pr
}
