// Package chunk splits document text into overlapping windows for
// embedding.
package chunk

// Options control the sliding window.
type Options struct {
	// Window is the hard chunk size in runes.
	Window int
	// Overlap is how many runes consecutive chunks share.
	Overlap int
	// SnapBackoff bounds how far back from the hard cutoff a sentence
	// terminator is honored. A terminator earlier than Window-SnapBackoff
	// is ignored and the chunk is cut at the hard boundary.
	SnapBackoff int
}

// DefaultOptions are the production chunking parameters.
func DefaultOptions() Options {
	return Options{Window: 1000, Overlap: 200, SnapBackoff: 100}
}

// Split cuts text into overlapping chunks of at most opts.Window runes.
//
// A cut prefers the nearest sentence terminator within the final
// SnapBackoff runes of the window so chunks avoid mid-sentence breaks.
// Consecutive chunks overlap by opts.Overlap runes. Splitting is
// deterministic: identical text and options always yield identical chunks.
func Split(text string, opts Options) []string {
	if opts.Window <= 0 {
		opts = DefaultOptions()
	}

	runes := []rune(text)
	length := len(runes)
	if length == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < length {
		end := start + opts.Window
		if end >= length {
			if c := trim(runes[start:]); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		if cut := lastSentenceEnd(runes, start, end); cut > end-opts.SnapBackoff {
			end = cut + 1
		}

		if c := trim(runes[start:end]); c != "" {
			chunks = append(chunks, c)
		}

		next := end - opts.Overlap
		if next <= start {
			// Snapping plus overlap would stall; force forward progress.
			next = end
		}
		start = next
	}

	return chunks
}

// lastSentenceEnd returns the index of the last '.' in runes[start:end),
// or -1 when none exists.
func lastSentenceEnd(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == '.' {
			return i
		}
	}
	return -1
}

func trim(runes []rune) string {
	lo, hi := 0, len(runes)
	for lo < hi && isSpace(runes[lo]) {
		lo++
	}
	for hi > lo && isSpace(runes[hi-1]) {
		hi--
	}
	return string(runes[lo:hi])
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
