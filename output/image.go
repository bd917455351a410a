package output

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

const (
	legendSpacing = 20
	legendWidth   = 140
	minImageWidth = 320
)

// CreateClassificationImage renders the single band classification r as a PNG
// with one colour per class and a legend underneath. Small rasters are scaled
// up by an integer factor.
func CreateClassificationImage(r *raster.Raster, outputPath string) error {
	if len(r.BandNames()) != 1 {
		return fmt.Errorf("%w: classification must hold a single band, has %v", raster.ErrInvalidInput, r.BandNames())
	}
	classes := r.Bands()[0]
	g := r.Grid

	scale := 1
	if g.Width < minImageWidth {
		scale = (minImageWidth + g.Width - 1) / g.Width
	}
	width := max(g.Width*scale, legendWidth)
	height := g.Height * scale
	legendHeight := legendSpacing*delta.NumClasses + 20

	dc := gg.NewContext(width, height+legendHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v, ok := classes.At(g.Index(x, y))
			if !ok {
				continue
			}
			c := delta.Class(int(v))
			if !c.Valid() {
				return fmt.Errorf("%w: class value %v at (%d, %d)", raster.ErrInvalidInput, v, x, y)
			}
			setColor(dc, c.Color())
			dc.DrawRectangle(float64(x*scale), float64(y*scale), float64(scale), float64(scale))
			dc.Fill()
		}
	}

	legendX := 10.0
	for i, c := range delta.Classes() {
		y := float64(height + 10 + i*legendSpacing)

		setColor(dc, c.Color())
		dc.DrawRectangle(legendX, y, 15, 15)
		dc.Fill()

		dc.SetRGB(0, 0, 0)
		dc.DrawRectangle(legendX, y, 15, 15)
		dc.SetLineWidth(1)
		dc.Stroke()

		dc.DrawStringAnchored(c.String(), legendX+20, y+7, 0, 0.5)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create result folder: %w", err)
	}
	if err := dc.SavePNG(outputPath); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func setColor(dc *gg.Context, c color.RGBA) {
	dc.SetRGB(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255)
}
