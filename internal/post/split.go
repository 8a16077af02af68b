package post

import (
	"strings"
	"unicode"
)

// Split cuts text into ordered chunks, each no longer than its tier limit:
// firstLimit for the first chunk, laterLimit for every chunk after it. Cuts
// land on the last whitespace boundary inside the window so words stay
// whole; a window without any whitespace is cut hard at the limit. The
// whitespace consumed at a cut point is the only loss.
//
// The result is never empty: empty input yields a single empty chunk.
func Split(text string, firstLimit, laterLimit int) []string {
	var chunks []string
	for {
		limit := laterLimit
		if len(chunks) == 0 {
			limit = firstLimit
		}
		if len(text) <= limit {
			return append(chunks, text)
		}
		// The window extends one byte past the limit: whitespace sitting
		// exactly at the limit still allows a full-width chunk.
		cut := strings.LastIndexFunc(text[:limit+1], unicode.IsSpace)
		if cut == -1 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeftFunc(text[cut:], unicode.IsSpace)
	}
}
