package progressive

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEnvironment is reported when the environment cannot
	// buffer the requested MIME type progressively. It leads to direct
	// playback, not to a failed session.
	ErrUnsupportedEnvironment = errors.New("progressive buffering not supported")

	// ErrTotalFailure is reported when neither progressive nor direct
	// playback can proceed, usually because there is no resource locator.
	ErrTotalFailure = errors.New("no usable playback path")

	// ErrSourceExhausted is returned by StreamSource.Next once the source has
	// reported the end of the stream.
	ErrSourceExhausted = errors.New("stream source exhausted")

	// ErrSourceReleased is returned by StreamSource.Next after Release.
	ErrSourceReleased = errors.New("stream source released")

	// ErrAppendWhileUpdating is what SourceBuffer implementations return when
	// Append is called with an append still outstanding.
	ErrAppendWhileUpdating = errors.New("append while buffer is updating")

	// ErrBufferNotOpen is returned when appending to a handle that is not open.
	ErrBufferNotOpen = errors.New("playback buffer is not open")

	// ErrAborted completes an append that was cut short by Abort.
	ErrAborted = errors.New("append aborted")

	// ErrTornDown ends the buffer of a session that was torn down before its
	// stream finished.
	ErrTornDown = errors.New("session torn down")
)

// SourceReadError wraps a failure of the byte source to produce a chunk.
type SourceReadError struct {
	Err error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("source read: %v", e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// BufferAppendError wraps a rejection of appended bytes by the decoder buffer.
// Chunk is the zero-based index of the chunk that failed.
type BufferAppendError struct {
	Chunk int
	Err   error
}

func (e *BufferAppendError) Error() string {
	return fmt.Sprintf("buffer append (chunk %d): %v", e.Chunk, e.Err)
}

func (e *BufferAppendError) Unwrap() error { return e.Err }

// DecodeError wraps a decoder failure the sink observed outside of an append.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
