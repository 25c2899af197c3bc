package crawl

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://shop.example.com/collections/mugs")
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "lowercases scheme and host",
			raw:  "HTTPS://Shop.Example.COM/Collections",
			want: "https://shop.example.com/Collections",
		},
		{
			name: "strips default https port",
			raw:  "https://shop.example.com:443/collections",
			want: "https://shop.example.com/collections",
		},
		{
			name: "strips fragment",
			raw:  "https://shop.example.com/collections/mugs#reviews",
			want: "https://shop.example.com/collections/mugs",
		},
		{
			name: "strips trailing slash on non-root path",
			raw:  "https://shop.example.com/collections/mugs/",
			want: "https://shop.example.com/collections/mugs",
		},
		{
			name: "keeps root slash",
			raw:  "https://shop.example.com/",
			want: "https://shop.example.com/",
		},
		{
			name: "adds root slash to bare host",
			raw:  "https://shop.example.com",
			want: "https://shop.example.com/",
		},
		{
			name: "drops tracking params and sorts the rest",
			raw:  "https://shop.example.com/p?utm_source=x&b=2&a=1&gclid=abc",
			want: "https://shop.example.com/p?a=1&b=2",
		},
		{
			name: "keeps variant param",
			raw:  "https://shop.example.com/products/mug?variant=123",
			want: "https://shop.example.com/products/mug?variant=123",
		},
		{
			name: "resolves relative against base",
			raw:  "../products/mug",
			want: "https://shop.example.com/products/mug",
		},
		{
			name: "resolves rooted relative against base",
			raw:  "/pages/about",
			want: "https://shop.example.com/pages/about",
		},
		{
			name:    "rejects unsupported scheme",
			raw:     "ftp://shop.example.com/file",
			wantErr: true,
		},
		{
			name:    "rejects empty",
			raw:     "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.raw, base)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://Shop.Example.com/Collections/Mugs/?utm_campaign=x&b=2&a=1#top",
		"http://shop.example.com:80/products/mug?variant=9",
		"https://shop.example.com",
	}
	for _, raw := range inputs {
		once, err := NormalizeURL(raw, nil)
		require.NoError(t, err)
		twice, err := NormalizeURL(once, nil)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", raw)
	}
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	root, err := url.Parse("https://example.com/")
	require.NoError(t, err)

	www, err := url.Parse("https://www.example.com/page")
	require.NoError(t, err)
	assert.True(t, SameHost(www, root))

	other, err := url.Parse("https://blog.example.com/page")
	require.NoError(t, err)
	assert.False(t, SameHost(other, root))
}

func TestDedupIndex(t *testing.T) {
	t.Parallel()

	idx := NewDedupIndex()
	assert.True(t, idx.MarkIfNew("https://example.com/a"))
	assert.False(t, idx.MarkIfNew("https://example.com/a"))
	assert.True(t, idx.Seen("https://example.com/a"))
	assert.False(t, idx.Seen("https://example.com/b"))
	assert.False(t, idx.MarkIfNew(""))
}
