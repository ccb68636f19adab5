package observe

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/screenpilot/internal/driver"
	"github.com/v0xg/screenpilot/internal/driver/drivertest"
)

const searchPage = `<html><head><title>Search</title></head><body>
	<input id="q" placeholder="Search">
	<button id="go">Go</button>
</body></html>`

func TestCapture(t *testing.T) {
	page := drivertest.NewPageHTML("https://example.com/", searchPage)
	b := NewBuilder(DefaultLimits(), 0, nil)

	obs, err := b.Capture(context.Background(), page)
	require.NoError(t, err)
	assert.False(t, obs.Empty())
	assert.NotEmpty(t, obs.Screenshot)
	assert.Equal(t, "https://example.com/", obs.URL)
	assert.Contains(t, obs.DOMDigest, `<button id="go">Go</button>`)
	assert.False(t, obs.CapturedAt.IsZero())
}

func TestCaptureToleratesScreenshotFailure(t *testing.T) {
	page := drivertest.NewPageHTML("https://example.com/", searchPage)
	page.ScreenshotErr = errors.New("target closed")

	obs, err := NewBuilder(DefaultLimits(), 0, nil).Capture(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, obs.Screenshot)
	assert.Contains(t, obs.DOMDigest, `id="q"`)
}

type brokenPage struct {
	driver.Page
}

func (brokenPage) Screenshot(context.Context) ([]byte, error) {
	return nil, errors.New("no screenshot")
}

func (brokenPage) Snapshot(context.Context, int) (*driver.Snapshot, error) {
	return nil, errors.New("no snapshot")
}

func TestCaptureFailsWhenBothHalvesFail(t *testing.T) {
	obs, err := NewBuilder(DefaultLimits(), 0, nil).Capture(context.Background(), brokenPage{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "no screenshot")
	assert.ErrorContains(t, err, "no snapshot")
	assert.True(t, obs.Empty())
}

func TestScaleDownscalesWideScreenshots(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := range 400 {
		img.Set(x, 10, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out := NewBuilder(DefaultLimits(), 100, nil).scale(buf.Bytes())
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 50, decoded.Bounds().Dy())

	narrow := NewBuilder(DefaultLimits(), 1000, nil).scale(buf.Bytes())
	assert.Equal(t, buf.Bytes(), narrow)
}
