package imagegen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"

	"github.com/cfi-labs/boardgen/internal/render"
)

const placeholderSize = 512

// Placeholder draws a white square with a border and the entity name.
// It always succeeds unless the destination cannot be written.
type Placeholder struct {
	logger *slog.Logger
}

// NewPlaceholder creates a Placeholder producer.
func NewPlaceholder(logger *slog.Logger) *Placeholder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Placeholder{logger: logger}
}

// Produce ignores the prompt.
func (p *Placeholder) Produce(_ context.Context, entity, _ string, dir, prefix string) (string, bool) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	render.StrokeRect(img, image.Rect(10, 10, placeholderSize-10, placeholderSize-10), 4, color.RGBA{30, 30, 30, 255})
	render.DrawText(img, entity, placeholderSize/2, placeholderSize/2-20, 3, color.RGBA{20, 20, 20, 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		p.logger.Error("Failed to encode placeholder", "entity", entity, "error", err)
		return "", false
	}
	name, err := writeImage(dir, prefix, buf.Bytes())
	if err != nil {
		p.logger.Error("Failed to write placeholder", "entity", entity, "error", err)
		return "", false
	}
	return name, true
}
