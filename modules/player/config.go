package player

import (
	"flag"
	"os"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

// Chunk size guidance (chunk-size):
// - Smaller chunks start playback sooner; each append waits for the decoder, so
//   very small chunks cost one round trip through the decoder per few frames.
// - 32KiB is roughly two seconds of 128kbps MP3.
const (
	defaultChunkSize      = 32 * 1024 // 32 KiB
	defaultMimeType       = "audio/mpeg"
	defaultConnectTimeout = 10 * time.Second
	defaultRecordBufSize  = 256 * 1024 // 256 KiB

	// The record buffer is clamped to avoid tiny writes or very large buffers.
	minRecordBufSize = 32 * 1024       // 32 KiB
	maxRecordBufSize = 4 * 1024 * 1024 // 4 MiB

	// BaseURLEnv is read for the default base URL, so a .env file can set it.
	BaseURLEnv = "STREAMPLAY_BASE_URL"
)

type Config struct {
	// URL is played at startup when set.
	URL             string        `yaml:"url,omitempty"`
	// BaseURL is what relative resource locators resolve against.
	BaseURL         string        `yaml:"base-url,omitempty"`
	MimeType        string        `yaml:"mime-type,omitempty"`
	// Progressive false forces direct playback of every resource.
	Progressive     bool          `yaml:"progressive"`
	ChunkSize       int           `yaml:"chunk-size,omitempty"`
	ICY             bool          `yaml:"icy,omitempty"`
	Output          string        `yaml:"output,omitempty"`
	OutputPath      string        `yaml:"output-path,omitempty"`
	RecordDir       string        `yaml:"record-dir,omitempty"`
	RecordBufSize   int           `yaml:"record-buffer-size,omitempty"`
	ConnectTimeout  time.Duration `yaml:"connect-timeout,omitempty"`
	PushQueueLength int           `yaml:"push-queue-length,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "Resource to play at startup")
	f.StringVar(&cfg.BaseURL, util.PrefixConfig(prefix, "base-url"), os.Getenv(BaseURLEnv),
		"Base URL that relative resource locators resolve against (default from "+BaseURLEnv+")")
	f.StringVar(&cfg.MimeType, util.PrefixConfig(prefix, "mime-type"), defaultMimeType, "MIME type of the audio resources")
	f.BoolVar(&cfg.Progressive, util.PrefixConfig(prefix, "progressive"), true,
		"Feed the decoder as bytes arrive. When false every resource is fetched whole before playback.")
	f.IntVar(&cfg.ChunkSize, util.PrefixConfig(prefix, "chunk-size"), defaultChunkSize, "Maximum bytes handed to the decoder per append")
	f.BoolVar(&cfg.ICY, util.PrefixConfig(prefix, "icy"), false, "Open resources as shoutcast/ICY streams, resolving playlists and stripping metadata")
	f.StringVar(&cfg.Output, util.PrefixConfig(prefix, "output"), "discard", "Where decoded audio goes: discard, wav or portaudio")
	f.StringVar(&cfg.OutputPath, util.PrefixConfig(prefix, "output-path"), "", "File written by the wav output")
	f.StringVar(&cfg.RecordDir, util.PrefixConfig(prefix, "record-dir"), "", "Directory to save the compressed stream of each progressive session")
	f.IntVar(&cfg.RecordBufSize, util.PrefixConfig(prefix, "record-buffer-size"), defaultRecordBufSize,
		"Bytes to buffer in memory before writing a recording to disk. Reasonable range: 256KiB-1MiB.")
	f.DurationVar(&cfg.ConnectTimeout, util.PrefixConfig(prefix, "connect-timeout"), defaultConnectTimeout,
		"Timeout for connecting to the resource and receiving response headers")
	f.IntVar(&cfg.PushQueueLength, util.PrefixConfig(prefix, "push-queue-length"), 64, "Chunks buffered between a pushed upload and the decoder")
}
