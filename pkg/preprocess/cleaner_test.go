package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanBasic(t *testing.T) {
	in := "Caching\t\tstores   results.\x00\n\n\n\nIt is ﬁne."
	assert.Equal(t, "Caching stores results.\n\nIt is fine.", CleanBasic(in))
	assert.Equal(t, "", CleanBasic(""))
}

func TestCleanBasicKeepsWordBoundaries(t *testing.T) {
	in := "func\tLookup(key string)\t\r\nname\tsize\rtotal\nlru.go\t4096"
	assert.Equal(t, "func Lookup(key string)\nname size total\nlru.go 4096", CleanBasic(in))
}

func TestHTMLToText(t *testing.T) {
	html := `<html><body><h1>Cache</h1><p>Stores results.</p><ul><li>fast</li></ul>
		<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table></body></html>`
	out, err := HTMLToText(html)
	require.NoError(t, err)
	assert.Contains(t, out, "# Cache")
	assert.Contains(t, out, "Stores results.")
	assert.Contains(t, out, "- fast")
	assert.Contains(t, out, "| a | 1 |")
}

func TestDocument(t *testing.T) {
	in := "Intro paragraph.\n\nAccept cookies to continue\n\nIntro paragraph.\n\nBody."
	assert.Equal(t, "Intro paragraph.\n\nBody.", Document(in))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
