package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zachfi/streamplay/pkg/decoder"
	"github.com/zachfi/streamplay/pkg/progressive"
	"github.com/zachfi/streamplay/pkg/shoutcast"
)

var module = "player"

const metricsNamespace = "streamplay"

var errInvalidLocator = errors.New("invalid locator")

type Player struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	base   *url.URL
	guard  *progressive.Guard
	output *decoder.Output

	// mu serializes loads so the recording name matches the session being
	// started.
	mu         sync.Mutex
	recordName atomic.Value
}

// New creates and returns a new Player. Metrics are registered with reg.
func New(cfg Config, logger slog.Logger, reg prometheus.Registerer) (*Player, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MimeType == "" {
		cfg.MimeType = defaultMimeType
	}
	switch {
	case cfg.RecordBufSize <= 0:
		cfg.RecordBufSize = defaultRecordBufSize
	case cfg.RecordBufSize < minRecordBufSize:
		cfg.RecordBufSize = minRecordBufSize
	case cfg.RecordBufSize > maxRecordBufSize:
		cfg.RecordBufSize = maxRecordBufSize
	}

	p := &Player{
		cfg:    &cfg,
		logger: logger.With("module", module),
	}
	p.recordName.Store("")

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		p.base = base
	}

	pcm, err := decoder.NewPCMSink(cfg.Output, cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: cfg.ConnectTimeout}}
	p.output = decoder.NewOutput(pcm, client, p.logger)

	var env progressive.Environment = decoder.NewEnvironment(cfg.Progressive)
	if cfg.RecordDir != "" {
		env = &recordingEnvironment{
			Environment: env,
			dir:         cfg.RecordDir,
			bufSize:     cfg.RecordBufSize,
			logger:      p.logger,
			name:        func() string { return p.recordName.Load().(string) },
		}
	}

	var opener progressive.Opener = progressive.NewHTTPOpener(cfg.ConnectTimeout, cfg.ChunkSize, nil)
	if cfg.ICY {
		opener = &icyOpener{chunkSize: cfg.ChunkSize, logger: p.logger}
	}

	p.guard = progressive.NewGuard(progressive.GuardConfig{
		MimeType:    cfg.MimeType,
		Environment: env,
		Sink:        p.output,
		Opener:      opener,
		Metrics:     progressive.NewMetrics(metricsNamespace, reg),
	}, p.logger)

	p.Service = services.NewBasicService(p.starting, p.running, p.stopping)

	return p, nil
}

func (p *Player) starting(ctx context.Context) error {
	if p.cfg.URL == "" {
		p.logger.Info("no startup url, waiting for requests")
		return nil
	}

	if _, err := p.Play(ctx, p.cfg.URL); err != nil {
		p.logger.Error("error starting playback", "err", err, "url", p.cfg.URL)
		return err
	}
	return nil
}

func (p *Player) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (p *Player) stopping(_ error) error {
	return errors.Join(p.guard.Close(), p.output.Close())
}

// Play replaces whatever is playing with the resource at locator. Relative
// locators resolve against the configured base URL.
func (p *Player) Play(ctx context.Context, locator string) (*progressive.Session, error) {
	resolved, err := p.resolve(locator)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.recordName.Store(recordingName(resolved))
	return p.guard.Load(ctx, progressive.Resource{Locator: resolved, MimeType: p.cfg.MimeType})
}

// Push plays the bytes read from r as they arrive. locator, when not empty,
// is played directly if progressive playback of r fails. Push returns once r
// is drained or the session it started is replaced.
func (p *Player) Push(ctx context.Context, r io.Reader, locator string) (*progressive.Session, error) {
	resolved, err := p.resolve(locator)
	if err != nil {
		return nil, err
	}

	src := progressive.NewChannelSource(p.cfg.PushQueueLength)

	p.mu.Lock()
	name := "push.mp3"
	if resolved != "" {
		name = recordingName(resolved)
	}
	p.recordName.Store(name)
	s, err := p.guard.Load(ctx, progressive.Resource{Locator: resolved, Source: src, MimeType: p.cfg.MimeType})
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	w := &chunkWriter{src: src, size: p.cfg.ChunkSize}
	n, err := io.Copy(w, r)
	_ = src.CloseWrite()
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			p.logger.Info("pushed stream stopped by teardown", "session", s.ID, "written", ByteCountIEC(n))
			return s, nil
		}
		return s, fmt.Errorf("error copying pushed stream: %w", err)
	}

	p.logger.Debug("pushed stream drained", "session", s.ID, "written", ByteCountIEC(n))
	return s, nil
}

// Stop tears down the current session.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guard.Unload()
}

// Status returns the state of the current session, or nil when idle.
func (p *Player) Status() *progressive.Status {
	s := p.guard.Current()
	if s == nil {
		return nil
	}
	st := s.Status()
	return &st
}

func (p *Player) resolve(locator string) (string, error) {
	if locator == "" || p.base == nil {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", errInvalidLocator, locator, err)
	}
	return p.base.ResolveReference(u).String(), nil
}

// chunkWriter splits writes so no chunk handed to the source exceeds size.
type chunkWriter struct {
	src  *progressive.ChannelSource
	size int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), w.size)
		m, err := w.src.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

// icyOpener opens resources as shoutcast streams and logs title changes.
type icyOpener struct {
	chunkSize int
	logger    *slog.Logger
}

func (o *icyOpener) Open(ctx context.Context, locator string) (progressive.ByteSource, error) {
	s, err := shoutcast.Open(ctx, locator, o.logger)
	if err != nil {
		return nil, err
	}
	if s.Name != "" {
		o.logger.Info("tuned in", "name", s.Name, "genre", s.Genre, "bitrate", s.Bitrate)
	}
	s.MetadataCallbackFunc = func(m *shoutcast.Metadata) {
		o.logger.Info("now listening to", "title", m.StreamTitle)
	}
	return progressive.NewReaderSource(s, o.chunkSize), nil
}

// ByteCountIEC formats b with binary units.
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
