// Package recording turns the screenshots taken after each action into a
// replayable animated GIF
package recording

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/config"
	"github.com/v0xg/screenpilot/internal/driver"
)

// Options configures a recorder
type Options struct {
	FPS      int
	MaxWidth uint
	// ScreenshotDir, when set, receives every frame as a numbered PNG
	ScreenshotDir string
}

// OptionsFromConfig maps the recording config section
func OptionsFromConfig(cfg config.RecordingConfig) Options {
	return Options{FPS: cfg.FPS, MaxWidth: cfg.MaxWidth, ScreenshotDir: cfg.ScreenshotDir}
}

// Frame is one decoded screenshot and where the action landed
type Frame struct {
	Image image.Image
	Point *driver.Point
}

// Recorder collects frames. It satisfies executor.FrameSink and is safe
// for concurrent use.
type Recorder struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	frames []Frame
	seq    int
}

// NewRecorder creates an empty recorder
func NewRecorder(opts Options, logger *zap.Logger) *Recorder {
	if opts.FPS <= 0 {
		opts.FPS = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{opts: opts, logger: logger.Named("recording")}
}

// AddFrame decodes a PNG screenshot and keeps it. Undecodable data is
// logged and dropped.
func (r *Recorder) AddFrame(data []byte, point *driver.Point) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		r.logger.Warn("dropping undecodable frame", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.frames = append(r.frames, Frame{Image: img, Point: point})
	r.mu.Unlock()

	if r.opts.ScreenshotDir != "" {
		if err := r.dump(seq, data); err != nil {
			r.logger.Warn("could not write screenshot", zap.Error(err))
		}
	}
}

func (r *Recorder) dump(seq int, data []byte) error {
	if err := os.MkdirAll(r.opts.ScreenshotDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.opts.ScreenshotDir, fmt.Sprintf("frame-%04d.png", seq))
	return os.WriteFile(path, data, 0o644)
}

// Len returns the number of frames kept so far
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Reset drops the kept frames. Screenshot numbering carries on so dumps
// from later tasks do not overwrite earlier ones.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

// Frames returns a copy of the kept frames
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Save writes the frames as an animated GIF and returns its size in bytes.
// A recorder without frames writes nothing.
func (r *Recorder) Save(path string) (int64, error) {
	frames := r.Frames()
	if len(frames) == 0 {
		return 0, nil
	}
	marked := make([]image.Image, len(frames))
	for i, f := range frames {
		marked[i] = markAction(f.Image, f.Point)
	}

	size, err := writeGIF(marked, path, r.opts)
	if err != nil {
		return 0, fmt.Errorf("write recording %s: %w", path, err)
	}
	r.logger.Info("recording saved", zap.String("path", path), zap.Int("frames", len(frames)), zap.Int64("bytes", size))
	return size, nil
}
