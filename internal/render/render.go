// Package render composes produced images and labels into a board PNG and
// an A5 PDF.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/labels"
	"github.com/cfi-labs/boardgen/internal/shared"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
)

// Board geometry in pixels.
const (
	CellWidth   = 400
	CellHeight  = 420
	Margin      = 40
	Gutter      = 20
	TitleHeight = 80
)

// ErrMismatchedInputs is returned when entities, images and labels differ in length.
var ErrMismatchedInputs = errors.New("entities, images and labels must have the same length")

var (
	background = color.RGBA{255, 255, 255, 255}
	cellFill   = color.RGBA{245, 247, 250, 255}
	cellBorder = color.RGBA{220, 224, 230, 255}
	ink        = color.RGBA{20, 20, 20, 255}
	inkLight   = color.RGBA{60, 60, 60, 255}
	missing    = color.RGBA{230, 230, 230, 255}
)

// Request holds everything needed to draw one board.
type Request struct {
	Layout   string
	Title    string
	Entities []string
	Images   []string // filenames relative to Dir
	Labels   []labels.Set
	Dir      string
	Prefix   string
}

// Renderer writes boards into a directory.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render draws the board and returns the PNG and PDF filenames, relative to req.Dir.
// Entities beyond the layout capacity are not drawn.
func (r *Renderer) Render(req Request) (string, string, error) {
	if len(req.Images) != len(req.Entities) || len(req.Labels) != len(req.Entities) {
		return "", "", ErrMismatchedInputs
	}
	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		return "", "", fmt.Errorf("create board directory: %w", err)
	}

	board := r.draw(req)

	var buf bytes.Buffer
	if err := png.Encode(&buf, board); err != nil {
		return "", "", fmt.Errorf("encode board png: %w", err)
	}

	base := shared.SanitizePrefix(req.Prefix) + "board_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	pngName, pdfName := base+".png", base+".pdf"
	pngPath := filepath.Join(req.Dir, pngName)

	if err := os.WriteFile(pngPath, buf.Bytes(), 0644); err != nil {
		return "", "", fmt.Errorf("write board png: %w", err)
	}
	if err := writePDF(filepath.Join(req.Dir, pdfName), pngPath, req.Title, board.Bounds()); err != nil {
		_ = os.Remove(pngPath)
		return "", "", err
	}
	return pngName, pdfName, nil
}

func (r *Renderer) draw(req Request) *image.RGBA {
	layout := domain.LayoutOrDefault(req.Layout)
	rows, cols := layout.Rows, layout.Cols

	width := Margin*2 + cols*CellWidth + (cols-1)*Gutter
	height := Margin*2 + rows*CellHeight + (rows-1)*Gutter + TitleHeight

	board := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(board, board.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	DrawText(board, req.Title, width/2, Margin/2, 3, ink)

	for idx, entity := range req.Entities {
		row, col := idx/cols, idx%cols
		if row >= rows {
			break
		}
		x := Margin + col*(CellWidth+Gutter)
		y := Margin + TitleHeight + row*(CellHeight+Gutter)
		cell := image.Rect(x, y, x+CellWidth, y+CellHeight)

		draw.Draw(board, cell, image.NewUniform(cellFill), image.Point{}, draw.Src)
		StrokeRect(board, cell, 2, cellBorder)

		Fit(board, loadImage(filepath.Join(req.Dir, req.Images[idx])),
			image.Rect(x+10, y+10, x+CellWidth-10, y+CellHeight-60))

		line1, line2 := entity, ""
		if set := req.Labels[idx]; len(set) > 0 {
			if set[0].Text != "" {
				line1 = set[0].Text
			}
			if len(set) > 1 {
				line2 = set[1].Text
			}
		}
		DrawText(board, line1, x+CellWidth/2, y+CellHeight-54, 2, ink)
		DrawText(board, line2, x+CellWidth/2, y+CellHeight-28, 2, inkLight)
	}
	return board
}

// loadImage decodes path, substituting a gray square when it cannot be read.
func loadImage(path string) image.Image {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		if img, _, err := image.Decode(f); err == nil {
			return img
		}
	}
	gray := image.NewRGBA(image.Rect(0, 0, 512, 512))
	draw.Draw(gray, gray.Bounds(), image.NewUniform(missing), image.Point{}, draw.Src)
	return gray
}

// writePDF places the board PNG across the full width of an A5 page.
func writePDF(pdfPath, pngPath, title string, bounds image.Rectangle) error {
	pdf := fpdf.New("P", "mm", "A5", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("boardgen", true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	imgH := float64(bounds.Dy()) * pageW / float64(bounds.Dx())
	pdf.ImageOptions(pngPath, 0, 0, pageW, imgH, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	if err := pdf.OutputFileAndClose(pdfPath); err != nil {
		return fmt.Errorf("write board pdf: %w", err)
	}
	return nil
}
