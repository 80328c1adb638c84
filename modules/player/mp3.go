package player

// findMP3FrameSync returns the offset of the first MP3 frame sync word: 0xFF
// followed by a byte whose top three bits are set. Returns -1 if not found.
func findMP3FrameSync(data []byte) int {
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && data[i+1]&0xE0 == 0xE0 {
			return i
		}
	}
	return -1
}

// hasID3v2 reports whether data starts with an ID3v2 tag header.
func hasID3v2(data []byte) bool {
	return len(data) >= 3 && string(data[:3]) == "ID3"
}
