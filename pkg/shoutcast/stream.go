package shoutcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const userAgent = "streamplay/1.0"

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *Metadata)

// Stream represents an open shoutcast stream. Read returns audio bytes only.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// The description of the stream
	Description string

	// Homepage of the server
	URL string

	// Bitrate of the server
	Bitrate int

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Amount of bytes to read before expecting a metadata block; 0 when the
	// server sends no metadata.
	metaint int

	metadata *Metadata

	// The number of audio bytes read since last metadata block
	pos int

	rc     io.ReadCloser
	logger *slog.Logger
}

// Open establishes a connection to a remote server. Playlist URLs (.pls,
// .m3u) are resolved to the stream they point at. The connection lives until
// ctx is cancelled or the stream is closed.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Stream, error) {
	logger.Info("opening stream", "url", url)

	resolvedURL, err := resolvePlaylistURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve playlist URL: %w", err)
	}
	if resolvedURL != url {
		logger.Info("resolved playlist to stream URL", "url", resolvedURL)
		url = resolvedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)
	req.Header.Add("icy-metadata", "1")

	// Only connecting is bounded; the stream itself is read indefinitely.
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	for k, v := range resp.Header {
		logger.Debug("http header", "key", k, "value", v[0])
	}

	var bitrate int
	if rawBitrate := resp.Header.Get("icy-br"); rawBitrate != "" {
		bitrate, err = strconv.Atoi(rawBitrate)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse bitrate: %v", err)
		}
	}

	var metaint int
	if rawMetaint := resp.Header.Get("icy-metaint"); rawMetaint != "" {
		metaint, err = strconv.Atoi(rawMetaint)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse metaint: %v", err)
		}
	}

	return &Stream{
		Name:        resp.Header.Get("icy-name"),
		Genre:       resp.Header.Get("icy-genre"),
		Description: resp.Header.Get("icy-description"),
		URL:         resp.Header.Get("icy-url"),
		Bitrate:     bitrate,
		metaint:     metaint,
		rc:          resp.Body,
		logger:      logger,
	}, nil
}

// Read implements io.Reader. Metadata blocks are consumed and reported
// through MetadataCallbackFunc; they never reach buf.
func (s *Stream) Read(buf []byte) (int, error) {
	if s.metaint <= 0 {
		return s.rc.Read(buf)
	}

	n := 0
	for n < len(buf) {
		if s.pos == s.metaint {
			if err := s.readMetadata(); err != nil {
				return n, err
			}
			s.pos = 0
			continue
		}

		want := len(buf) - n
		if left := s.metaint - s.pos; want > left {
			want = left
		}

		m, err := s.rc.Read(buf[n : n+want])
		n += m
		s.pos += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
		// Hand back what we have rather than blocking for a full buffer.
		if s.pos != s.metaint {
			break
		}
	}

	return n, nil
}

// readMetadata consumes one metadata block: a length byte (in units of 16
// bytes) followed by the block itself.
func (s *Stream) readMetadata() error {
	var lenByte [1]byte
	if _, err := io.ReadFull(s.rc, lenByte[:]); err != nil {
		return err
	}

	blockLen := int(lenByte[0]) * 16
	if blockLen == 0 {
		return nil
	}

	block := make([]byte, blockLen)
	if _, err := io.ReadFull(s.rc, block); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if m := NewMetadata(block); !m.Equals(s.metadata) {
		s.metadata = m
		if s.MetadataCallbackFunc != nil {
			s.MetadataCallbackFunc(m)
		}
	}
	return nil
}

// Close closes the stream
func (s *Stream) Close() error {
	s.logger.Info("closing stream", "url", s.URL)
	return s.rc.Close()
}
