package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTMLTags(t *testing.T) {
	html := "<html><body><p>Hello <b>world</b></p><br>Second &amp; third line</body></html>"
	assert.Equal(t, "Hello world\n\nSecond & third line", stripHTMLTags(html))

	assert.Equal(t, "plain text", stripHTMLTags("plain text"))
	assert.Equal(t, "", stripHTMLTags("<div><span></span></div>"))
}

func TestParseAddress(t *testing.T) {
	assert.Equal(t, "user@example.com", parseAddress("Jane Doe <user@example.com>"))
	assert.Equal(t, "user@example.com", parseAddress("user@example.com"))
	assert.Equal(t, "user@example.com", parseAddress("  user@example.com  "))
}
