package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
)

func TestUnrendered(t *testing.T) {
	t.Parallel()

	bigScript := "<script>" + strings.Repeat("var a = 1;", 50) + "</script>"
	testCases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"empty body", 200, "  ", true},
		{"empty app root", 200, `<html><body><div id="__next"></div></body></html>`, true},
		{"filled app root", 200, `<html><body><div id="root"><ul><li>x</li></ul></div></body></html>`, false},
		{"script shell", 200, `<html><body>` + bigScript + `<p>Loading</p></body></html>`, true},
		{"plain empty listing", 200, `<html><body></body></html>`, false},
		{"empty listing with text", 200, `<html><body>` + bigScript + `<p>Товары в этой категории закончились, загляните позже</p></body></html>`, false},
		{"error status", 503, "", false},
	}
	h := NewHeuristic()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := h.Unrendered(crawler.FetchResponse{StatusCode: tc.status, Body: []byte(tc.body)})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestScriptShareUnterminated(t *testing.T) {
	t.Parallel()

	require.Equal(t, 100, scriptShare([]byte("<script>never closed")))
	require.Zero(t, scriptShare([]byte("<p>no scripts</p>")))
}
