package outbound

import "strings"

// ChunkText splits text into pieces of at most limit bytes, preferring to
// break at the last newline in the window, then the last space, then a hard
// break at exactly limit. The separator character at a whitespace break is
// consumed; trailing whitespace is trimmed from each emitted chunk.
// limit <= 0 means no limit. Empty input produces no chunks.
func ChunkText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		window := text[:limit]
		cut, skip := limit, 0
		if idx := strings.LastIndexByte(window, '\n'); idx >= 0 {
			cut, skip = idx, 1
		} else if idx := strings.LastIndexByte(window, ' '); idx >= 0 {
			cut, skip = idx, 1
		}

		chunk := strings.TrimRight(text[:cut], " \t\n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = text[cut+skip:]
	}

	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
