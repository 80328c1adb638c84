package progressive

import (
	"sync"
)

// ReadyState is the lifecycle state of a playback buffer.
type ReadyState int

const (
	StateClosed ReadyState = iota
	StateOpen
	StateEnded
)

func (s ReadyState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SourceBuffer is the decoder-side receive buffer.
//
// Append dispatches p and returns a channel that receives exactly one value
// once the decoder has consumed it: nil on success, the decode error
// otherwise. Updating is true from Append until that value is sent. Abort
// completes the outstanding append with ErrAborted. Calling Append while
// Updating is a usage error. Ready is closed once the buffer is
// attached to a sink and can receive data.
type SourceBuffer interface {
	Append(p []byte) (<-chan error, error)
	Abort()
	Updating() bool
	EndOfStream(err error)
	Ready() <-chan struct{}
}

// Environment creates decoder buffers. Supports is the capability probe.
type Environment interface {
	Supports(mimeType string) bool
	NewSourceBuffer(mimeType string) (SourceBuffer, error)
}

// Sink is the audio output a session plays into. It is bound either to a
// SourceBuffer for progressive playback or to a locator for whole-resource
// playback. A new binding replaces the previous one. onError receives decode
// errors the sink observes outside of an append.
type Sink interface {
	BindBuffer(sb SourceBuffer, onError func(error)) error
	BindDirect(locator string) error
	Unbind()
}

// Handle wraps a SourceBuffer with the closed/open/ended state machine.
// Only the Scheduler appends through it.
type Handle struct {
	mu     sync.Mutex
	sb     SourceBuffer
	state  ReadyState
	err    error
	aborts int
}

func NewHandle(sb SourceBuffer) *Handle {
	return &Handle{sb: sb}
}

// Ready is closed when the underlying buffer can receive data.
func (h *Handle) Ready() <-chan struct{} {
	return h.sb.Ready()
}

// Open moves a closed handle to open. It reports false if the handle was not
// closed.
func (h *Handle) Open() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateClosed {
		return false
	}
	h.state = StateOpen
	return true
}

func (h *Handle) append(p []byte) (<-chan error, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateOpen {
		return nil, ErrBufferNotOpen
	}
	return h.sb.Append(p)
}

// Abort cancels an outstanding append. It is a no-op when nothing is
// outstanding.
func (h *Handle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abortLocked()
}

func (h *Handle) abortLocked() {
	if !h.sb.Updating() {
		return
	}
	h.aborts++
	h.sb.Abort()
}

func (h *Handle) Updating() bool {
	return h.sb.Updating()
}

func (h *Handle) ReadyState() ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// End signals the end of the stream, with err set when the stream ended
// because of a failure. Only the first call takes effect; it reports whether
// this call performed the transition.
func (h *Handle) End(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateEnded {
		return false
	}
	h.abortLocked()
	h.state = StateEnded
	h.err = err
	h.sb.EndOfStream(err)
	return true
}

// Err is the error the handle was ended with, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Aborts is the number of outstanding appends this handle aborted.
func (h *Handle) Aborts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborts
}
