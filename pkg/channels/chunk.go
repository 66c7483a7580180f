package channels

// SplitMessage splits text into fixed-size chunks of at most limit runes,
// preserving order. A limit of 0 means no splitting.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) == 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
