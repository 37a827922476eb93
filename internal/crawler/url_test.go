package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase host", "https://Example.COM/path", "https://example.com/path"},
		{"default https port", "https://example.com:443/a", "https://example.com/a"},
		{"default http port", "http://example.com:80/a", "http://example.com/a"},
		{"fragment removed", "https://example.com/a#frag", "https://example.com/a"},
		{"query sorted", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestSegmentShapeMatches(t *testing.T) {
	t.Parallel()

	shape := SegmentShape{Prefix: "/catalog/", Depth: 2}
	require.True(t, shape.Matches("/catalog/12101/"))
	require.True(t, shape.Matches("/catalog/12101"))
	require.False(t, shape.Matches("/catalog/"))
	require.False(t, shape.Matches("/catalog/drywall/"))
	require.False(t, shape.Matches("/catalog/drywall/12101/"))
	require.False(t, shape.Matches("/product/12101/"))
	require.False(t, shape.Matches("/catalog/12a/"))
}

func TestCanonicalSegment(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://shop.test/catalog/")
	require.NoError(t, err)
	shape := SegmentShape{Prefix: "/catalog/", Depth: 2}

	seg, ok := CanonicalSegment("/catalog/7?utm=x", base, shape)
	require.True(t, ok)
	require.Equal(t, Segment("https://shop.test/catalog/7/"), seg)

	_, ok = CanonicalSegment("https://elsewhere.test/catalog/7/", base, shape)
	require.False(t, ok)
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	got, err := PageURL(Segment("https://shop.test/catalog/7/"), "p", 3)
	require.NoError(t, err)
	require.Equal(t, "https://shop.test/catalog/7/?p=3", got)
}
