package recording

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"sort"

	"github.com/nfnt/resize"
)

// writeGIF scales every frame to MaxWidth, quantizes it against a palette
// built from the first frame and encodes a looping GIF
func writeGIF(frames []image.Image, path string, opts Options) (int64, error) {
	delay := 100 / opts.FPS

	bounds := frames[0].Bounds()
	width := opts.MaxWidth
	if width == 0 || width > uint(bounds.Dx()) {
		width = uint(bounds.Dx())
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))

	anim := &gif.GIF{
		Image: make([]*image.Paletted, len(frames)),
		Delay: make([]int, len(frames)),
	}
	palette := buildPalette(frames[0])
	for i, frame := range frames {
		scaled := resize.Resize(width, height, frame, resize.Lanczos3)
		paletted := image.NewPaletted(scaled.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, scaled.Bounds(), scaled, image.Point{})
		anim.Image[i] = paletted
		anim.Delay[i] = delay
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := gif.EncodeAll(f, anim); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// buildPalette keeps the most frequent colors of a sampled frame, plus the
// marker colors so click markers survive quantization
func buildPalette(img image.Image) color.Palette {
	counts := make(map[color.RGBA]int)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 4 {
		for x := b.Min.X; x < b.Max.X; x += 4 {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			counts[c]++
		}
	}

	type entry struct {
		c     color.RGBA
		count int
	}
	ranked := make([]entry, 0, len(counts))
	for c, n := range counts {
		ranked = append(ranked, entry{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		ci, cj := ranked[i].c, ranked[j].c
		return uint32(ci.R)<<16|uint32(ci.G)<<8|uint32(ci.B) < uint32(cj.R)<<16|uint32(cj.G)<<8|uint32(cj.B)
	})

	palette := color.Palette{markerOutline, markerFill, markerRipple}
	for _, e := range ranked {
		if len(palette) == 256 {
			break
		}
		palette = append(palette, e.c)
	}
	for len(palette) < 256 {
		g := uint8(len(palette))
		palette = append(palette, color.RGBA{g, g, g, 255})
	}
	return palette
}
