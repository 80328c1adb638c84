//go:build !portaudio

package decoder

import "errors"

func newPortAudioSink() (PCMSink, error) {
	return nil, errors.New("portaudio output requires building with -tags portaudio")
}
