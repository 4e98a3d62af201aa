// Package detector decides when an article page must be re-rendered in a
// headless browser before extraction.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// Heuristic promotes pages that look client-rendered.
type Heuristic struct {
	// BodyLengthThreshold marks small documents as suspicious when they are
	// dominated by script.
	BodyLengthThreshold int
	// MinParagraphs is the paragraph count at which a page is considered
	// server-rendered regardless of other markers.
	MinParagraphs int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinParagraphs: 3}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether a headless render is likely to recover more text.
func (h *Heuristic) ShouldPromote(page article.Page) bool {
	if page.UsedHeadless || page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	if bytes.Count(lower, []byte("<p")) >= h.MinParagraphs {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(string(lower)) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of the document covered by <script> elements.
func scriptShare(lower string) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered := 0
	rest := lower
	for {
		start := strings.Index(rest, "<script")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "</script>")
		if end == -1 {
			covered += len(rest) - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		rest = rest[end:]
	}
	return covered * 100 / total
}
