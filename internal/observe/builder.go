// Package observe builds the bounded page observation handed to the model
package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/driver"
)

// Observation is a fresh screenshot plus DOM digest. Never reuse one
// across model calls.
type Observation struct {
	Screenshot []byte // PNG
	DOMDigest  string
	URL        string
	CapturedAt time.Time
}

// Empty reports whether nothing was captured
func (o Observation) Empty() bool {
	return len(o.Screenshot) == 0 && o.DOMDigest == ""
}

// Builder captures observations from a live page
type Builder struct {
	limits   Limits
	maxWidth uint
	logger   *zap.Logger
}

// NewBuilder creates a builder. Screenshots wider than maxWidth are scaled
// down; zero keeps the original size.
func NewBuilder(limits Limits, maxWidth uint, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{limits: limits.normalized(), maxWidth: maxWidth, logger: logger}
}

// Capture takes the screenshot and the digest. A failure of one half is
// logged and tolerated; only a failure of both is returned.
func (b *Builder) Capture(ctx context.Context, page driver.Page) (Observation, error) {
	obs := Observation{CapturedAt: time.Now()}

	shot, shotErr := page.Screenshot(ctx)
	if shotErr == nil {
		obs.Screenshot = b.scale(shot)
	} else {
		b.logger.Warn("screenshot capture failed", zap.Error(shotErr))
	}

	snap, snapErr := page.Snapshot(ctx, b.limits.MaxElements*4)
	if snapErr == nil {
		obs.DOMDigest = Digest(snap, b.limits)
		obs.URL = snap.URL
	} else {
		b.logger.Warn("DOM snapshot failed", zap.Error(snapErr))
	}

	if shotErr != nil && snapErr != nil {
		return obs, fmt.Errorf("capture observation: %w", errors.Join(shotErr, snapErr))
	}
	b.logger.Debug("captured observation",
		zap.String("url", obs.URL),
		zap.Int("screenshot_bytes", len(obs.Screenshot)),
		zap.Int("digest_chars", len(obs.DOMDigest)))
	return obs, nil
}

func (b *Builder) scale(data []byte) []byte {
	if b.maxWidth == 0 {
		return data
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	if uint(img.Bounds().Dx()) <= b.maxWidth {
		return data
	}
	resized := resize.Resize(b.maxWidth, 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return data
	}
	return buf.Bytes()
}
