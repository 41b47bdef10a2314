// Package outbound connects to the hub's stream, watches for outbound
// timeline entries, and delivers their text to the origin platform.
package outbound

// DefaultChunkLimit is the chunk cap used when a platform does not
// declare its own message-length limit.
const DefaultChunkLimit = 4096

// SplitText splits text into chunks of at most limit code points,
// preferring to break just after the last newline inside the window.
// Limits are counted in runes, never bytes, so multi-byte characters
// are not torn apart. The empty string yields a single empty chunk so
// an empty outbound entry still produces one platform send.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		window := runes[:limit]

		cut := limit
		for i := limit - 1; i > 0; i-- {
			if window[i] == '\n' {
				cut = i + 1
				break
			}
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
