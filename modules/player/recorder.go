package player

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zachfi/streamplay/pkg/progressive"
)

// maxSyncSearch is how much leading data is scanned for a frame sync before
// the recording starts anyway.
const maxSyncSearch = 64 * 1024

// recorder saves the compressed bytes a session appended. Data goes to a temp
// file next to the destination and is committed when the recording closes.
type recorder struct {
	logger   *slog.Logger
	destPath string
	tempPath string
	f        *os.File
	bufSize  int

	synced  bool
	pending []byte
	buf     []byte
}

func newRecorder(dir, name string, bufSize int, logger *slog.Logger) (*recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record dir: %w", err)
	}

	destPath := filepath.Join(dir, name)
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if bufSize <= 0 {
		bufSize = defaultRecordBufSize
	}

	return &recorder{
		logger:   logger.With("recording", destPath),
		destPath: destPath,
		tempPath: f.Name(),
		f:        f,
		bufSize:  bufSize,
		buf:      make([]byte, 0, bufSize),
	}, nil
}

// Write buffers p. Until the first frame sync is seen, data is held back so a
// recording that joins a live stream mid-frame starts on a frame boundary.
func (r *recorder) Write(p []byte) (int, error) {
	if !r.synced {
		r.pending = append(r.pending, p...)
		switch pos := findMP3FrameSync(r.pending); {
		case hasID3v2(r.pending):
			r.buf = append(r.buf, r.pending...)
		case pos >= 0:
			if pos > 0 {
				r.logger.Debug("skipped bytes before first frame", "bytes", pos)
			}
			r.buf = append(r.buf, r.pending[pos:]...)
		case len(r.pending) > maxSyncSearch:
			r.logger.Warn("no frame sync found, recording from the start")
			r.buf = append(r.buf, r.pending...)
		default:
			return len(p), nil
		}
		r.synced = true
		r.pending = nil
	} else {
		r.buf = append(r.buf, p...)
	}

	if len(r.buf) >= r.bufSize {
		if err := r.flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (r *recorder) flush() error {
	if len(r.buf) == 0 {
		return nil
	}
	_, err := r.f.Write(r.buf)
	r.buf = r.buf[:0]
	if err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// Close flushes what is left and commits the temp file.
func (r *recorder) Close() error {
	if !r.synced {
		r.buf = append(r.buf, r.pending...)
		r.pending = nil
	}

	flushErr := r.flush()
	if err := r.f.Sync(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("failed to sync recording: %w", err)
	}
	if err := r.f.Close(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("failed to close recording: %w", err)
	}
	if flushErr != nil {
		_ = os.Remove(r.tempPath)
		return flushErr
	}

	return r.commit()
}

// commit moves the temp file into place. An existing recording is replaced
// only by a longer one; an empty recording is discarded.
func (r *recorder) commit() error {
	tempInfo, err := os.Stat(r.tempPath)
	if err != nil {
		return fmt.Errorf("failed to stat temp file: %w", err)
	}

	if tempInfo.Size() == 0 {
		r.logger.Debug("discarding empty recording")
		return os.Remove(r.tempPath)
	}

	destInfo, err := os.Stat(r.destPath)
	if err == nil {
		if tempInfo.Size() <= destInfo.Size() {
			r.logger.Info("keeping existing recording (longer or equal)",
				"existing_size", destInfo.Size(), "new_size", tempInfo.Size())
			return os.Remove(r.tempPath)
		}
		r.logger.Info("replacing existing recording with longer version",
			"existing_size", destInfo.Size(), "new_size", tempInfo.Size())
	} else if !os.IsNotExist(err) {
		_ = os.Remove(r.tempPath)
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.Rename(r.tempPath, r.destPath); err != nil {
		_ = os.Remove(r.tempPath)
		return fmt.Errorf("failed to commit recording: %w", err)
	}

	r.logger.Info("recording saved", "size", tempInfo.Size())
	return nil
}

// recordingName derives a file name from a locator: the last path element,
// or the host when there is no path, with .mp3 added when it has no extension.
func recordingName(locator string) string {
	var name string
	var fromHost bool
	if u, err := url.Parse(locator); err == nil {
		name = path.Base(u.Path)
		if name == "." || name == "/" {
			name, fromHost = u.Host, true
		}
	}

	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" || strings.HasPrefix(name, ".") {
		name = "stream" + name
	}
	if fromHost || filepath.Ext(name) == "" {
		name += ".mp3"
	}
	return name
}

// recordingEnvironment wraps an Environment so every buffer it creates copies
// completed appends to a recorder.
type recordingEnvironment struct {
	progressive.Environment

	dir     string
	bufSize int
	logger  *slog.Logger
	name    func() string
}

func (e *recordingEnvironment) NewSourceBuffer(mimeType string) (progressive.SourceBuffer, error) {
	sb, err := e.Environment.NewSourceBuffer(mimeType)
	if err != nil {
		return nil, err
	}

	rec, err := newRecorder(e.dir, e.name(), e.bufSize, e.logger)
	if err != nil {
		// Playback does not depend on the recording.
		e.logger.Error("recording disabled for session", "err", err)
		return sb, nil
	}

	return &tapBuffer{SourceBuffer: sb, rec: rec, logger: e.logger}, nil
}

// tapBuffer passes every append through and, once it completes, hands the
// bytes to the recorder. Appends are strictly sequential so the recording
// keeps their order.
type tapBuffer struct {
	progressive.SourceBuffer

	logger *slog.Logger

	mu     sync.Mutex
	rec    io.WriteCloser
	closed bool
}

func (t *tapBuffer) Append(p []byte) (<-chan error, error) {
	done, err := t.SourceBuffer.Append(p)
	if err != nil {
		return nil, err
	}

	out := make(chan error, 1)
	go func() {
		err := <-done
		if err == nil {
			t.record(p)
		}
		out <- err
	}()
	return out, nil
}

func (t *tapBuffer) record(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, err := t.rec.Write(p); err != nil {
		t.logger.Error("error writing recording", "err", err)
	}
}

func (t *tapBuffer) EndOfStream(err error) {
	t.SourceBuffer.EndOfStream(err)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if cerr := t.rec.Close(); cerr != nil {
		t.logger.Error("error closing recording", "err", cerr)
	}
}

// Unwrap returns the buffer being recorded, for sinks that need the concrete
// type.
func (t *tapBuffer) Unwrap() progressive.SourceBuffer {
	return t.SourceBuffer
}
