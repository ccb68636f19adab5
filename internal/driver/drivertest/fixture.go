// Package drivertest is an in-memory implementation of the driver
// interfaces backed by static HTML. Element state is expressed with
// attributes:
//
//	hidden, data-hidden        not visible
//	disabled                   not enabled
//	data-covered-by="<css>"    another element sits on top of this one
//	data-dispatch-fails        synthetic mouse events are rejected
//	data-native-fails          native clicks are rejected
package drivertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/v0xg/screenpilot/internal/driver"
)

// Event is one dispatched DOM event or native click
type Event struct {
	Target string
	Name   string
}

// Browser hands out a single fixture page, created on first Acquire
type Browser struct {
	mu       sync.Mutex
	site     map[string]string
	page     *Page
	acquires int
	closed   bool
}

// NewBrowser creates a browser serving site, keyed by URL
func NewBrowser(site map[string]string) *Browser {
	return &Browser{site: site}
}

// Acquire returns the page, creating it on first use
func (b *Browser) Acquire(ctx context.Context) (driver.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.page == nil {
		b.page = NewPage(b.site)
		b.acquires++
	}
	b.closed = false
	return b.page, nil
}

// Current returns the page if one was acquired
func (b *Browser) Current() (driver.Page, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil, false
	}
	return b.page, true
}

// Close drops the page
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.page = nil
	b.closed = true
	return nil
}

// Page returns the fixture page, or nil before the first Acquire
func (b *Browser) Page() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page
}

// Launches reports how many times a page was created
func (b *Browser) Launches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquires
}

// Closed reports whether Close ran after the last Acquire
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Page is a fixture tab holding one parsed document
type Page struct {
	mu          sync.Mutex
	site        map[string]string
	url         string
	doc         *goquery.Document
	xpaths      map[string]string
	hooks       []clickHook
	events      []Event
	screenshots int
	navigations []string

	// ScreenshotErr, when set, fails every Screenshot call
	ScreenshotErr error
}

type clickHook struct {
	selector string
	fn       func(p *Page)
}

// NewPage creates an empty page; Navigate or SetHTML loads content
func NewPage(site map[string]string) *Page {
	p := &Page{site: site, xpaths: make(map[string]string)}
	p.doc = mustParse("<html><head></head><body></body></html>")
	return p
}

// NewPageHTML creates a page already showing markup at url
func NewPageHTML(url, markup string) *Page {
	p := NewPage(map[string]string{url: markup})
	p.url = url
	p.doc = mustParse(markup)
	return p
}

func mustParse(markup string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		panic(fmt.Sprintf("drivertest: parse fixture html: %v", err))
	}
	return doc
}

// SetHTML replaces the current document
func (p *Page) SetHTML(markup string) {
	doc := mustParse(markup)
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
}

// Load switches to the site page at url without recording a navigation
func (p *Page) Load(url string) {
	p.mu.Lock()
	markup, ok := p.site[url]
	p.mu.Unlock()
	if !ok {
		markup = "<html><body><h1>404</h1></body></html>"
	}
	p.SetHTML(markup)
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// RegisterXPath maps an XPath expression to an equivalent CSS selector
func (p *Page) RegisterXPath(xpath, css string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.xpaths[xpath] = css
}

// OnClick runs fn after any click lands on an element matching selector
func (p *Page) OnClick(selector string, fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, clickHook{selector: selector, fn: fn})
}

// Events returns a copy of every recorded event
func (p *Page) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventNames returns the recorded event names for targets matching prefix
func (p *Page) EventNames(targetPrefix string) []string {
	var names []string
	for _, e := range p.Events() {
		if strings.HasPrefix(e.Target, targetPrefix) {
			names = append(names, e.Name)
		}
	}
	return names
}

// Screenshots reports how many screenshots were taken
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshots
}

// Navigations lists every URL passed to Navigate
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Value returns the value attribute of the first element matching selector
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, _ := p.doc.Find(selector).First().Attr("value")
	return v
}

func (p *Page) record(target, name string) {
	p.mu.Lock()
	p.events = append(p.events, Event{Target: target, Name: name})
	p.mu.Unlock()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	p.mu.Unlock()
	p.Load(url)
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) FindByID(ctx context.Context, id string) (driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	})
	return p.first(sel)
}

func (p *Page) FindCSS(ctx context.Context, selector string) (driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.first(p.doc.Find(selector))
}

func (p *Page) FindXPath(ctx context.Context, xpath string) (driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	css, ok := p.xpaths[xpath]
	if !ok {
		return nil, driver.ErrNoMatch
	}
	return p.first(p.doc.Find(css))
}

func (p *Page) FindAllByText(ctx context.Context, text string, foldCase bool) ([]driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	needle := text
	if foldCase {
		needle = strings.ToLower(needle)
	}
	var out []driver.Element
	p.doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		for _, hay := range textCandidates(s) {
			if foldCase {
				hay = strings.ToLower(hay)
			}
			if hay != "" && strings.Contains(hay, needle) {
				out = append(out, &Element{page: p, node: s.Get(0)})
				return
			}
		}
	})
	if len(out) == 0 {
		return nil, driver.ErrNoMatch
	}
	return out, nil
}

func textCandidates(s *goquery.Selection) []string {
	var own strings.Builder
	for c := s.Get(0).FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			own.WriteString(c.Data)
			own.WriteByte(' ')
		}
	}
	out := []string{strings.Join(strings.Fields(own.String()), " ")}
	for _, attr := range []string{"value", "alt", "title"} {
		if v, ok := s.Attr(attr); ok {
			out = append(out, v)
		}
	}
	return out
}

func (p *Page) first(sel *goquery.Selection) (driver.Element, error) {
	if sel.Length() == 0 {
		return nil, driver.ErrNoMatch
	}
	return &Element{page: p, node: sel.Get(0)}, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	p.screenshots++
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	shade := uint8(40 * (p.screenshots % 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CandidateSelector mirrors the in-page snapshot query of the real driver
const CandidateSelector = "input, button, a, select, textarea, form, img, [role], [aria-label], [onclick], [data-testid]"

func (p *Page) Snapshot(ctx context.Context, limit int) (*driver.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := &driver.Snapshot{
		URL:   p.url,
		Title: strings.TrimSpace(p.doc.Find("title").First().Text()),
	}
	snap.Description, _ = p.doc.Find(`meta[name="description"]`).First().Attr("content")
	p.doc.Find(CandidateSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(snap.Elements) >= limit {
			return false
		}
		rec := driver.ElementRecord{
			Tag:     goquery.NodeName(s),
			Attrs:   make(map[string]string),
			Text:    s.Text(),
			Visible: visible(s),
		}
		for _, a := range s.Get(0).Attr {
			rec.Attrs[a.Key] = a.Val
		}
		snap.Elements = append(snap.Elements, rec)
		return true
	})
	return snap, nil
}

func visible(s *goquery.Selection) bool {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, ok := cur.Attr("hidden"); ok {
			return false
		}
		if _, ok := cur.Attr("data-hidden"); ok {
			return false
		}
	}
	return true
}

// Element is a fixture DOM node handle
type Element struct {
	page *Page
	node *html.Node
}

func (e *Element) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

func (e *Element) has(attr string) bool {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	_, ok := e.sel().Attr(attr)
	return ok
}

// Describe renders the opening tag, e.g. <button id="go" class="primary">
func (e *Element) Describe() string {
	var b strings.Builder
	b.WriteString("<" + e.node.Data)
	for _, a := range e.node.Attr {
		fmt.Fprintf(&b, " %s=%q", a.Key, a.Val)
	}
	b.WriteString(">")
	return b.String()
}

func (e *Element) ScrollIntoCenter(ctx context.Context) error {
	if !e.isVisible() {
		return &driver.NotInteractableError{Reason: "element has no box"}
	}
	e.page.record(e.Describe(), "scroll")
	return nil
}

func (e *Element) isVisible() bool {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return visible(e.sel())
}

func (e *Element) WaitVisible(ctx context.Context) error {
	if !e.isVisible() {
		return &driver.NotInteractableError{Reason: "element is hidden"}
	}
	return nil
}

func (e *Element) WaitEnabled(ctx context.Context) error {
	if e.has("disabled") {
		return &driver.NotInteractableError{Reason: "element is disabled"}
	}
	return nil
}

func (e *Element) Center(ctx context.Context) (driver.Point, error) {
	return driver.Point{X: 4, Y: 3}, nil
}

func (e *Element) ElementAtCenter(ctx context.Context) (driver.Element, bool, error) {
	e.page.mu.Lock()
	cover, ok := e.sel().Attr("data-covered-by")
	if !ok {
		e.page.mu.Unlock()
		return e, true, nil
	}
	top := e.page.doc.Find(cover)
	e.page.mu.Unlock()
	if top.Length() == 0 {
		return e, true, nil
	}
	return &Element{page: e.page, node: top.Get(0)}, false, nil
}

func (e *Element) DispatchMouseSequence(ctx context.Context) error {
	if e.has("data-dispatch-fails") {
		return fmt.Errorf("dispatch rejected by %s", e.Describe())
	}
	for _, name := range []string{"mouseover", "mousedown", "mouseup", "click"} {
		e.page.record(e.Describe(), name)
	}
	e.fireHooks()
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	if e.has("data-native-fails") {
		return &driver.InterceptedError{Interceptor: e.Describe()}
	}
	if !e.isVisible() || e.has("disabled") {
		return &driver.NotInteractableError{Reason: "native click on hidden or disabled element"}
	}
	e.page.record(e.Describe(), "native-click")
	e.fireHooks()
	return nil
}

func (e *Element) fireHooks() {
	e.page.mu.Lock()
	var fns []func(*Page)
	s := e.sel()
	for _, h := range e.page.hooks {
		if s.Is(h.selector) {
			fns = append(fns, h.fn)
		}
	}
	e.page.mu.Unlock()
	for _, fn := range fns {
		fn(e.page)
	}
}

func (e *Element) Focus(ctx context.Context) error {
	e.page.record(e.Describe(), "focus")
	return nil
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	if e.has("disabled") {
		return &driver.NotInteractableError{Reason: "element is disabled"}
	}
	e.page.mu.Lock()
	found := false
	for i := range e.node.Attr {
		if e.node.Attr[i].Key == "value" {
			e.node.Attr[i].Val = value
			found = true
		}
	}
	if !found {
		e.node.Attr = append(e.node.Attr, html.Attribute{Key: "value", Val: value})
	}
	e.page.mu.Unlock()
	e.page.record(e.Describe(), "set-value")
	return nil
}

func (e *Element) DispatchEvents(ctx context.Context, names ...string) error {
	for _, name := range names {
		e.page.record(e.Describe(), name)
	}
	return nil
}
