package shoutcast

import (
	"strings"
)

// Metadata is one ICY metadata block.
type Metadata struct {
	StreamTitle string
	StreamURL   string
}

// NewMetadata parses a block of the form
// StreamTitle='Artist - Title';StreamUrl='http://...';
// Trailing NUL padding is ignored.
func NewMetadata(b []byte) *Metadata {
	m := &Metadata{}
	s := strings.TrimRight(string(b), "\x00")

	for s != "" {
		eq := strings.Index(s, "='")
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		rest := s[eq+2:]

		end := strings.Index(rest, "';")
		var value string
		if end < 0 {
			value = strings.TrimSuffix(rest, "'")
			s = ""
		} else {
			value = rest[:end]
			s = rest[end+2:]
		}

		switch key {
		case "StreamTitle":
			m.StreamTitle = value
		case "StreamUrl":
			m.StreamURL = value
		}
	}

	return m
}

// Equals reports whether m and other carry the same values. A nil other is
// never equal.
func (m *Metadata) Equals(other *Metadata) bool {
	if other == nil {
		return false
	}
	return m.StreamTitle == other.StreamTitle && m.StreamURL == other.StreamURL
}
