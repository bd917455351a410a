package raster

import (
	"math"
	"time"

	"github.com/paulmach/orb/geo"
)

const AreaBand = "area"

// PixelArea returns a single band raster with the area of every pixel in square
// metres. Geographic grids use the spherical area of each cell, which shrinks
// with latitude.
func PixelArea(g Grid) (*Raster, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	band := NewBand(AreaBand, g.Pixels())

	if g.Units != Degrees {
		gt := g.GeoTransform
		a := math.Abs(gt[1]*gt[5] - gt[2]*gt[4])
		for i := range band.Values {
			band.Set(i, a)
		}
		return New(g, time.Time{}, band)
	}

	for y := 0; y < g.Height; y++ {
		// north-up grids share the area across a row
		rowArea := -1.0
		if g.GeoTransform[2] == 0 && g.GeoTransform[4] == 0 {
			rowArea = math.Abs(geo.Area(g.Cell(0, y)))
		}
		for x := 0; x < g.Width; x++ {
			a := rowArea
			if a < 0 {
				a = math.Abs(geo.Area(g.Cell(x, y)))
			}
			band.Set(g.Index(x, y), a)
		}
	}
	return New(g, time.Time{}, band)
}
