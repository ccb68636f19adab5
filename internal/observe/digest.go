package observe

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/v0xg/screenpilot/internal/driver"
)

// Limits caps the digest handed to the model
type Limits struct {
	MaxChars    int
	MaxElements int
}

// DefaultLimits returns the stock digest caps
func DefaultLimits() Limits {
	return Limits{MaxChars: 5000, MaxElements: 150}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxChars <= 0 {
		l.MaxChars = d.MaxChars
	}
	if l.MaxElements <= 0 {
		l.MaxElements = d.MaxElements
	}
	return l
}

// CandidateSelector selects elements worth describing to the model
const CandidateSelector = "input, button, a, select, textarea, form, img, [role], [aria-label], [onclick], [data-testid]"

var interactiveTags = map[string]bool{
	"input": true, "button": true, "a": true, "select": true,
	"textarea": true, "form": true, "img": true,
}

// markerAttrs make any element a candidate
var markerAttrs = []string{"role", "aria-label", "data-testid", "onclick"}

// identityAttrs keep an invisible input in the digest
var identityAttrs = []string{"id", "name", "placeholder", "aria-label", "data-testid"}

type keptAttr struct {
	name  string
	limit int
}

var keptAttrs = []keptAttr{
	{"id", 120}, {"class", 80}, {"name", 120}, {"type", 120}, {"placeholder", 120},
	{"value", 120}, {"href", 160}, {"src", 160}, {"alt", 120}, {"title", 120},
	{"role", 120}, {"aria-label", 120}, {"data-testid", 120},
}

const textLimit = 200

// Digest renders the pruned HTML-like digest of a snapshot: a meta line,
// then one line per kept element
func Digest(snap *driver.Snapshot, limits Limits) string {
	limits = limits.normalized()
	if snap == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(metaLine(snap.Title, snap.Description))

	count := 0
	for _, rec := range snap.Elements {
		if count >= limits.MaxElements {
			break
		}
		if !keep(rec) {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(renderElement(rec))
		count++
		if b.Len() > limits.MaxChars {
			break
		}
	}
	return truncateRunes(b.String(), limits.MaxChars)
}

// DigestFromHTML applies the digest rules to static markup. Elements are
// treated as visible unless hidden by attribute or inline style.
func DigestFromHTML(markup string, limits Limits) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	snap := &driver.Snapshot{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	snap.Description, _ = doc.Find(`meta[name="description"]`).First().Attr("content")

	doc.Find(CandidateSelector).Each(func(_ int, s *goquery.Selection) {
		rec := driver.ElementRecord{
			Tag:     goquery.NodeName(s),
			Attrs:   make(map[string]string),
			Text:    s.Text(),
			Visible: staticallyVisible(s),
		}
		for _, a := range s.Get(0).Attr {
			rec.Attrs[a.Key] = a.Val
		}
		snap.Elements = append(snap.Elements, rec)
	})
	return Digest(snap, limits), nil
}

func staticallyVisible(s *goquery.Selection) bool {
	if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
		return false
	}
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, ok := cur.Attr("hidden"); ok {
			return false
		}
		style, _ := cur.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func keep(rec driver.ElementRecord) bool {
	tag := strings.ToLower(rec.Tag)
	candidate := interactiveTags[tag]
	for _, a := range markerAttrs {
		if _, ok := rec.Attrs[a]; ok {
			candidate = true
		}
	}
	if !candidate {
		return false
	}
	if rec.Visible {
		return true
	}
	// zero-size inputs are often still the real form field
	if tag == "input" || tag == "textarea" || tag == "select" {
		for _, a := range identityAttrs {
			if rec.Attrs[a] != "" {
				return true
			}
		}
	}
	return false
}

func renderElement(rec driver.ElementRecord) string {
	tag := strings.ToLower(rec.Tag)
	parts := []string{"<" + tag}
	for _, ka := range keptAttrs {
		v := strings.TrimSpace(rec.Attrs[ka.name])
		if ka.name == "class" {
			fields := strings.Fields(v)
			v = strings.Join(fields[:min(3, len(fields))], " ")
		}
		if v == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(`%s="%s"`, ka.name, escapeAttr(truncate(v, ka.limit))))
	}

	text := strings.Join(strings.Fields(rec.Text), " ")
	if text == "" {
		text = rec.Attrs["placeholder"]
	}
	return strings.Join(parts, " ") + ">" + truncate(text, textLimit) + "</" + tag + ">"
}

func metaLine(title, description string) string {
	line := fmt.Sprintf(`<meta title="%s"`, escapeAttr(truncate(strings.TrimSpace(title), 200)))
	if d := strings.TrimSpace(description); d != "" {
		line += fmt.Sprintf(` description="%s"`, escapeAttr(truncate(d, 300)))
	}
	return line + ">"
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(s, `"`, "&quot;")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
