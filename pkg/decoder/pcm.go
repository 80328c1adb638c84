package decoder

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	pcmChannels = 2
	pcmBitDepth = 16
)

// PCMSink receives decoded audio: interleaved 16-bit little-endian stereo.
// Open is called once per playback with the stream's sample rate.
type PCMSink interface {
	Open(sampleRate int) (io.WriteCloser, error)
}

// NewPCMSink returns the sink for kind: "discard", "wav" or "portaudio".
func NewPCMSink(kind, path string) (PCMSink, error) {
	switch kind {
	case "", "discard":
		return Discard{}, nil
	case "wav":
		if path == "" {
			return nil, fmt.Errorf("wav output needs a path")
		}
		return &WAVSink{Path: path}, nil
	case "portaudio":
		return newPortAudioSink()
	default:
		return nil, fmt.Errorf("unknown output %q", kind)
	}
}

// Discard drops all audio.
type Discard struct{}

func (Discard) Open(int) (io.WriteCloser, error) {
	return nopWriteCloser{io.Discard}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// WAVSink writes each playback to Path, replacing the previous one.
type WAVSink struct {
	Path string
}

func (s *WAVSink) Open(sampleRate int) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), os.ModePerm); err != nil {
		return nil, err
	}
	f, err := os.Create(s.Path)
	if err != nil {
		return nil, err
	}

	return &wavWriter{
		f:   f,
		enc: wav.NewEncoder(f, sampleRate, pcmBitDepth, pcmChannels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: pcmChannels, SampleRate: sampleRate},
			SourceBitDepth: pcmBitDepth,
		},
	}, nil
}

type wavWriter struct {
	f     *os.File
	enc   *wav.Encoder
	buf   *audio.IntBuffer
	carry []byte
}

func (w *wavWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.carry) > 0 {
		data = append(w.carry, p...)
		w.carry = nil
	}

	n := len(data) &^ 1
	if n < len(data) {
		w.carry = []byte{data[n]}
	}

	samples := w.buf.Data[:0]
	for i := 0; i < n; i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(data[i:]))))
	}
	w.buf.Data = samples

	if err := w.enc.Write(w.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wavWriter) Close() error {
	err := w.enc.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
