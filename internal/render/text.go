package render

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var face = basicfont.Face7x13

// DrawText draws text horizontally centered on centerX with its top at top,
// scaled up by an integer factor.
func DrawText(dst draw.Image, text string, centerX, top, scale int, col color.Color) {
	if text == "" || scale < 1 {
		return
	}
	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	if width == 0 || height == 0 {
		return
	}

	glyphs := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: metrics.Ascent},
	}
	d.DrawString(text)

	target := image.Rect(0, 0, width*scale, height*scale).Add(image.Pt(centerX-width*scale/2, top))
	xdraw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

// Fit scales src to fit inside area, preserving aspect ratio. The result is
// centered horizontally and aligned to the top of area.
func Fit(dst draw.Image, src image.Image, area image.Rectangle) {
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 || area.Empty() {
		return
	}
	w, h := area.Dx(), sb.Dy()*area.Dx()/sb.Dx()
	if h > area.Dy() {
		h = area.Dy()
		w = sb.Dx() * area.Dy() / sb.Dy()
	}
	// Never upscale beyond the source size.
	if w > sb.Dx() && h > sb.Dy() {
		w, h = sb.Dx(), sb.Dy()
	}
	x := area.Min.X + (area.Dx()-w)/2
	target := image.Rect(x, area.Min.Y, x+w, area.Min.Y+h)
	xdraw.ApproxBiLinear.Scale(dst, target, src, sb, xdraw.Over, nil)
}

// StrokeRect draws a rectangle outline of the given width inside r.
func StrokeRect(dst draw.Image, r image.Rectangle, width int, col color.Color) {
	src := image.NewUniform(col)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
}
