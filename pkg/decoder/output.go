package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hajimehoshi/go-mp3"

	"github.com/zachfi/streamplay/pkg/progressive"
)

const pcmBufferSize = 8 * 1024

// Output is the audio sink. Each Bind replaces the previous binding; a
// replaced playback has closed its PCM stream before the new one opens.
type Output struct {
	logger *slog.Logger
	pcm    PCMSink
	client *http.Client

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	// done is closed when the goroutine of the current binding returns.
	done chan struct{}
	wg   sync.WaitGroup
}

func NewOutput(pcm PCMSink, client *http.Client, logger *slog.Logger) *Output {
	if client == nil {
		client = http.DefaultClient
	}
	return &Output{
		logger: logger,
		pcm:    pcm,
		client: client,
	}
}

// BindBuffer starts decoding sb, which must come from this package's
// Environment. Wrapping buffers are accepted if they implement
// Unwrap() progressive.SourceBuffer.
func (o *Output) BindBuffer(sb progressive.SourceBuffer, onError func(error)) error {
	b, ok := unwrapBuffer(sb)
	if !ok {
		return fmt.Errorf("unsupported source buffer %T", sb)
	}

	ctx, gen, prev, done := o.rebind()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		stop := context.AfterFunc(ctx, func() { _ = b.reader().CloseWithError(ctx.Err()) })
		defer stop()

		<-prev
		err := o.play(ctx, gen, b.reader())
		if err != nil {
			_ = b.reader().CloseWithError(err)
			if ctx.Err() == nil && !errors.Is(err, progressive.ErrAborted) && onError != nil {
				onError(err)
			}
		}
	}()

	b.attach()
	o.logger.Debug("bound progressive buffer")
	return nil
}

// BindDirect plays the resource at locator as the response body arrives, so
// endless streams play too.
func (o *Output) BindDirect(locator string) error {
	if locator == "" {
		return errors.New("empty locator")
	}

	ctx, gen, prev, done := o.rebind()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)

		<-prev
		body, err := o.fetch(ctx, locator)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Error("error fetching resource", "err", err, "locator", locator)
			}
			return
		}
		defer body.Close()

		if err := o.play(ctx, gen, body); err != nil && ctx.Err() == nil {
			o.logger.Error("error playing resource", "err", err, "locator", locator)
		}
	}()

	o.logger.Debug("bound direct resource", "locator", locator)
	return nil
}

func unwrapBuffer(sb progressive.SourceBuffer) (*MP3Buffer, bool) {
	for sb != nil {
		switch b := sb.(type) {
		case *MP3Buffer:
			return b, true
		case interface{ Unwrap() progressive.SourceBuffer }:
			sb = b.Unwrap()
		default:
			return nil, false
		}
	}
	return nil, false
}

// Unbind stops whatever is playing.
func (o *Output) Unbind() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Close stops playback and waits for it to finish.
func (o *Output) Close() error {
	o.mu.Lock()
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

// rebind cancels the current binding and starts a new one. The new binding
// must wait on prev before opening PCM output. Waiting happens in the binding
// goroutine because Bind may be called from the goroutine being replaced.
func (o *Output) rebind() (ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	if o.done != nil {
		prev = o.done
	} else {
		closed := make(chan struct{})
		close(closed)
		prev = closed
	}

	o.gen++
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	return ctx, o.gen, prev, o.done
}

func (o *Output) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen
}

// fetch returns the response body. It is closed by the caller; cancelling ctx
// unblocks reads from it.
func (o *Output) fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// play decodes r into a fresh PCM stream until r ends, ctx is cancelled or
// the binding is replaced.
func (o *Output) play(ctx context.Context, gen uint64, r io.Reader) error {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("mp3 decoder: %w", err)
	}

	w, err := o.pcm.Open(d.SampleRate())
	if err != nil {
		return fmt.Errorf("open pcm output: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			o.logger.Warn("error closing pcm output", "err", err)
		}
	}()

	buf := make([]byte, pcmBufferSize)
	for {
		if ctx.Err() != nil || !o.current(gen) {
			return ctx.Err()
		}

		n, err := d.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write pcm: %w", werr)
			}
		}
		// A truncated final frame still ends the stream.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
