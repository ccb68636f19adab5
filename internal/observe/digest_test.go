package observe

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/screenpilot/internal/driver"
)

func TestDigestRendersElements(t *testing.T) {
	snap := &driver.Snapshot{
		Title:       "Search",
		Description: `Find "things"`,
		Elements: []driver.ElementRecord{
			{Tag: "INPUT", Attrs: map[string]string{"id": "q", "placeholder": "Search...", "type": "text", "class": "a b c d"}, Visible: true},
			{Tag: "button", Attrs: map[string]string{"id": "go", "onclick": "submit()"}, Text: "  Go \n now ", Visible: true},
			{Tag: "div", Attrs: map[string]string{"class": "decor"}, Text: "noise", Visible: true},
			{Tag: "a", Attrs: map[string]string{"href": "/hidden"}, Text: "hidden link", Visible: false},
		},
	}

	got := Digest(snap, DefaultLimits())
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `<meta title="Search" description="Find &quot;things&quot;">`, lines[0])
	assert.Equal(t, `<input id="q" class="a b c" type="text" placeholder="Search...">Search...</input>`, lines[1])
	assert.Equal(t, `<button id="go">Go now</button>`, lines[2])
}

func TestDigestKeepsIdentifiedInvisibleInputs(t *testing.T) {
	snap := &driver.Snapshot{
		Title: "Login",
		Elements: []driver.ElementRecord{
			{Tag: "input", Attrs: map[string]string{"name": "email"}, Visible: false},
			{Tag: "input", Attrs: map[string]string{"type": "checkbox"}, Visible: false},
			{Tag: "button", Attrs: map[string]string{"id": "hidden-btn"}, Visible: false},
		},
	}

	got := Digest(snap, DefaultLimits())
	assert.Contains(t, got, `<input name="email"></input>`)
	assert.NotContains(t, got, "checkbox")
	assert.NotContains(t, got, "hidden-btn")
}

func TestDigestTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	snap := &driver.Snapshot{Elements: []driver.ElementRecord{
		{Tag: "a", Attrs: map[string]string{"href": long}, Text: long, Visible: true},
	}}
	got := Digest(snap, DefaultLimits())
	assert.Contains(t, got, `href="`+strings.Repeat("x", 160)+`..."`)
	assert.Contains(t, got, ">"+strings.Repeat("x", 200)+"...</a>")
}

func TestDigestLimits(t *testing.T) {
	snap := &driver.Snapshot{Title: "Many"}
	for i := range 400 {
		snap.Elements = append(snap.Elements, driver.ElementRecord{
			Tag: "button", Attrs: map[string]string{"id": fmt.Sprintf("b%d", i)}, Text: "Press", Visible: true,
		})
	}

	got := Digest(snap, Limits{MaxChars: 100000, MaxElements: 10})
	assert.Equal(t, 11, len(strings.Split(got, "\n")))
	assert.NotContains(t, got, `id="b10"`)

	got = Digest(snap, Limits{MaxChars: 300, MaxElements: 1000})
	assert.LessOrEqual(t, len([]rune(got)), 300)
	assert.True(t, strings.HasPrefix(got, `<meta title="Many">`))
}

func TestDigestNilSnapshot(t *testing.T) {
	assert.Empty(t, Digest(nil, DefaultLimits()))
}

func TestDigestFromHTML(t *testing.T) {
	markup := `<html><head><title>Shop</title><meta name="description" content="Buy stuff"></head><body>
		<div style="display: none"><button id="ghost">Ghost</button></div>
		<input type="hidden" name="csrf" value="tok">
		<input type="hidden">
		<span role="button" aria-label="Cart">Cart (2)</span>
		<img src="/logo.png" alt="Shop logo">
		<p>plain text</p>
	</body></html>`

	got, err := DigestFromHTML(markup, DefaultLimits())
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `<meta title="Shop" description="Buy stuff">`, lines[0])
	assert.Equal(t, `<input name="csrf" type="hidden" value="tok"></input>`, lines[1])
	assert.Equal(t, `<span role="button" aria-label="Cart">Cart (2)</span>`, lines[2])
	assert.Equal(t, `<img src="/logo.png" alt="Shop logo"></img>`, lines[3])
}
