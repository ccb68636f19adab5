package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/driver"
	"github.com/v0xg/screenpilot/internal/observe"
)

// Page is a rod-backed driver.Page
type Page struct {
	page   *rod.Page
	logger *zap.Logger
}

var _ driver.Page = (*Page)(nil)

// Rod returns the underlying rod page
func (p *Page) Rod() *rod.Page {
	return p.page
}

// Navigate loads url, then waits for the network to settle and, on client
// rendered pages, for interactive elements to appear
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	p.settle(ctx)
	return nil
}

// settle is best effort; persistent connections never go idle
func (p *Page) settle(ctx context.Context) {
	p.page.Context(ctx).Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	spa, err := p.page.Context(ctx).Eval(jsDetectSPA)
	if err != nil || !spa.Value.Bool() {
		return
	}
	p.waitForInteractive(ctx, 5*time.Second)
}

// waitForInteractive polls until interactive elements appear or timeout
func (p *Page) waitForInteractive(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		res, err := p.page.Context(ctx).Eval(jsInteractiveCount)
		if err == nil && res.Value.Int() > 0 {
			return
		}
		select {
		case <-ctx.Done():
			p.logger.Debug("no interactive elements appeared before timeout")
			return
		case <-ticker.C:
		}
	}
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *Page) FindByID(ctx context.Context, id string) (driver.Element, error) {
	obj, err := p.page.Context(ctx).Evaluate(rod.Eval(jsFindByID, id).ByObject())
	if err != nil {
		return nil, err
	}
	return p.fromObject(obj)
}

func (p *Page) FindCSS(ctx context.Context, selector string) (driver.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, notFound(err)
	}
	return p.first(els)
}

func (p *Page) FindXPath(ctx context.Context, xpath string) (driver.Element, error) {
	els, err := p.page.Context(ctx).ElementsX(xpath)
	if err != nil {
		return nil, notFound(err)
	}
	return p.first(els)
}

func (p *Page) FindAllByText(ctx context.Context, text string, foldCase bool) ([]driver.Element, error) {
	els, err := p.page.Context(ctx).ElementsByJS(rod.Eval(jsFindAllByText, text, foldCase))
	if err != nil {
		return nil, notFound(err)
	}
	if len(els) == 0 {
		return nil, driver.ErrNoMatch
	}
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = p.wrap(el)
	}
	return out, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

type snapshotJSON struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Elements    []struct {
		Tag     string            `json:"tag"`
		Attrs   map[string]string `json:"attrs"`
		Text    string            `json:"text"`
		Visible bool              `json:"visible"`
	} `json:"elements"`
}

func (p *Page) Snapshot(ctx context.Context, limit int) (*driver.Snapshot, error) {
	res, err := p.page.Context(ctx).Eval(jsSnapshot, observe.CandidateSelector, limit)
	if err != nil {
		return nil, fmt.Errorf("collect snapshot: %w", err)
	}
	var raw snapshotJSON
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	snap := &driver.Snapshot{
		URL:         raw.URL,
		Title:       raw.Title,
		Description: raw.Description,
		Elements:    make([]driver.ElementRecord, 0, len(raw.Elements)),
	}
	for _, e := range raw.Elements {
		snap.Elements = append(snap.Elements, driver.ElementRecord{
			Tag: e.Tag, Attrs: e.Attrs, Text: e.Text, Visible: e.Visible,
		})
	}
	return snap, nil
}

func (p *Page) fromObject(obj *proto.RuntimeRemoteObject) (driver.Element, error) {
	if obj == nil || obj.ObjectID == "" || obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, driver.ErrNoMatch
	}
	el, err := p.page.ElementFromObject(obj)
	if err != nil {
		return nil, err
	}
	return p.wrap(el), nil
}

func (p *Page) first(els rod.Elements) (driver.Element, error) {
	if len(els) == 0 {
		return nil, driver.ErrNoMatch
	}
	return p.wrap(els.First()), nil
}

func (p *Page) wrap(el *rod.Element) *Element {
	return &Element{el: el, page: p}
}

// notFound reports rod's own not-found errors as driver.ErrNoMatch
func notFound(err error) error {
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) {
		return driver.ErrNoMatch
	}
	return err
}
