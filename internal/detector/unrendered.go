// Package detector tells a genuinely empty listing page from one whose
// products were never rendered.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
)

const defaultMinBodyText = 32

// Heuristic flags pages that look like an unrendered client-side shell.
type Heuristic struct {
	// MinBodyText is the visible text length below which a script-heavy page
	// counts as a shell.
	MinBodyText int
	// ScriptShare is the percentage of the document covered by script tags
	// that marks it as script-heavy.
	ScriptShare int
}

// NewHeuristic returns a Heuristic with default thresholds.
func NewHeuristic() *Heuristic {
	return &Heuristic{MinBodyText: defaultMinBodyText, ScriptShare: 25}
}

// mount points of common client-side frameworks.
var appRoots = []string{"#__next", "#root", "#app", "[data-reactroot]"}

// Unrendered implements crawler.EmptyPageCheck. Only 2xx pages are judged.
func (h *Heuristic) Unrendered(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range appRoots {
		root := doc.Find(sel).First()
		if root.Length() > 0 && root.Children().Length() == 0 && strings.TrimSpace(root.Text()) == "" {
			return true
		}
	}
	doc.Find("script, style, noscript").Remove()
	visible := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	return visible < h.MinBodyText && scriptShare(body) >= h.ScriptShare
}

// scriptShare returns the percentage of body covered by script elements.
// An unterminated script counts to the end of the document.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		start := bytes.Index(lower[pos:], []byte("<script"))
		if start < 0 {
			break
		}
		start += pos
		end := bytes.Index(lower[start:], []byte("</script>"))
		if end < 0 {
			covered += total - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
