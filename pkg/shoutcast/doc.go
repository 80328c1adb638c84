// Package shoutcast reads ICY/Shoutcast streams with metadata stripping and
// playlist resolution.
//
// It began as a fork of github.com/romantomjak/shoutcast:
//   - Playlist resolution: .pls and .m3u URLs are resolved to the actual stream URL
//   - Metadata stripping: ICY metadata blocks are read and skipped so only audio bytes are returned
//   - Servers that send no icy-metaint are read as plain audio
//   - No client timeout on the stream; cancellation comes from the request context
package shoutcast
