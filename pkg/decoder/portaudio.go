//go:build portaudio

package decoder

import (
	"encoding/binary"
	"io"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

type portAudioSink struct{}

func newPortAudioSink() (PCMSink, error) {
	return portAudioSink{}, nil
}

func (portAudioSink) Open(sampleRate int) (io.WriteCloser, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	w := &portAudioWriter{buf: make([]int16, framesPerBuffer*pcmChannels)}
	stream, err := portaudio.OpenDefaultStream(0, pcmChannels, float64(sampleRate), framesPerBuffer, w.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}
	w.stream = stream
	return w, nil
}

type portAudioWriter struct {
	stream *portaudio.Stream
	buf    []int16
	fill   int
	carry  []byte
}

func (w *portAudioWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.carry) > 0 {
		data = append(w.carry, p...)
		w.carry = nil
	}

	i := 0
	for ; i+1 < len(data); i += 2 {
		w.buf[w.fill] = int16(binary.LittleEndian.Uint16(data[i:]))
		w.fill++
		if w.fill == len(w.buf) {
			if err := w.stream.Write(); err != nil {
				return 0, err
			}
			w.fill = 0
		}
	}
	if i < len(data) {
		w.carry = []byte{data[i]}
	}
	return len(p), nil
}

func (w *portAudioWriter) Close() error {
	defer portaudio.Terminate()

	if w.fill > 0 {
		for i := w.fill; i < len(w.buf); i++ {
			w.buf[i] = 0
		}
		_ = w.stream.Write()
	}
	if err := w.stream.Stop(); err != nil {
		w.stream.Close()
		return err
	}
	return w.stream.Close()
}
