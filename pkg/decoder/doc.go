// Package decoder plugs an MP3 decoder into the progressive playback engine.
//
// Environment hands out MP3Buffers: appends are written into a pipe that the
// decoder reads from, so an append completes once the decoder has consumed
// it. Output is the audio sink; it decodes either a bound MP3Buffer or a
// whole resource fetched by locator, and writes 16-bit stereo PCM to a
// PCMSink (discard, WAV file or, with the portaudio build tag, the default
// audio device).
package decoder
