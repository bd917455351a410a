package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

type Units string

const (
	Degrees Units = "degrees"
	Metres  Units = "metres"
)

// Grid describes the pixel layout of a raster. GeoTransform follows the GDAL
// convention: x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5].
type Grid struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	CRS          string
	Units        Units
}

func (g Grid) Pixels() int {
	return g.Width * g.Height
}

func (g Grid) Index(x, y int) int {
	return y*g.Width + x
}

// PixelCenter returns the CRS coordinate of the centre of pixel (x, y).
func (g Grid) PixelCenter(x, y int) orb.Point {
	return g.coord(float64(x)+0.5, float64(y)+0.5)
}

func (g Grid) coord(col, row float64) orb.Point {
	gt := g.GeoTransform
	return orb.Point{
		gt[0] + col*gt[1] + row*gt[2],
		gt[3] + col*gt[4] + row*gt[5],
	}
}

// PixelSize returns the absolute pixel width in CRS units.
func (g Grid) PixelSize() float64 {
	return math.Hypot(g.GeoTransform[1], g.GeoTransform[4])
}

// Cell returns the closed ring outlining pixel (x, y).
func (g Grid) Cell(x, y int) orb.Ring {
	c, r := float64(x), float64(y)
	return orb.Ring{
		g.coord(c, r),
		g.coord(c+1, r),
		g.coord(c+1, r+1),
		g.coord(c, r+1),
		g.coord(c, r),
	}
}

func (g Grid) Bound() orb.Bound {
	b := orb.Bound{Min: g.coord(0, 0), Max: g.coord(0, 0)}
	for _, p := range []orb.Point{
		g.coord(float64(g.Width), 0),
		g.coord(0, float64(g.Height)),
		g.coord(float64(g.Width), float64(g.Height)),
	} {
		b = b.Extend(p)
	}
	return b
}

func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height &&
		g.GeoTransform == o.GeoTransform && g.CRS == o.CRS
}

func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: grid size %dx%d", ErrInvalidInput, g.Width, g.Height)
	}
	if g.GeoTransform[1] == 0 || g.GeoTransform[5] == 0 {
		return fmt.Errorf("%w: degenerate geotransform %v", ErrInvalidInput, g.GeoTransform)
	}
	return nil
}

// PixelSizeMetres returns the pixel width in metres. Geographic grids use the
// side of a square with the area of the pixel at the centre of the grid.
func (g Grid) PixelSizeMetres() float64 {
	if g.Units != Degrees {
		return g.PixelSize()
	}
	return math.Sqrt(math.Abs(geo.Area(g.Cell(g.Width/2, g.Height/2))))
}

// Factor converts a resolution in metres into a whole number of pixels, never
// below one.
func (g Grid) Factor(resolution float64) int {
	size := g.PixelSizeMetres()
	if size == 0 || resolution <= 0 {
		return 1
	}
	f := int(math.Round(resolution / size))
	if f < 1 {
		return 1
	}
	return f
}

// Coarsen returns a grid whose pixels cover factor x factor pixels of g. Partial
// blocks at the right and bottom edges are kept.
func (g Grid) Coarsen(factor int) Grid {
	if factor <= 1 {
		return g
	}
	out := g
	out.Width = (g.Width + factor - 1) / factor
	out.Height = (g.Height + factor - 1) / factor
	f := float64(factor)
	out.GeoTransform[1] *= f
	out.GeoTransform[2] *= f
	out.GeoTransform[4] *= f
	out.GeoTransform[5] *= f
	return out
}

// BlockCenter returns the fine pixel nearest to the centre of block (bx, by) for
// a block size of factor pixels, clamped to the grid.
func (g Grid) BlockCenter(bx, by, factor int) (int, int) {
	x := bx*factor + factor/2
	y := by*factor + factor/2
	if x >= g.Width {
		x = g.Width - 1
	}
	if y >= g.Height {
		y = g.Height - 1
	}
	return x, y
}

// Locate returns the pixel containing point p and whether it lies on the grid.
func (g Grid) Locate(p orb.Point) (int, int, bool) {
	gt := g.GeoTransform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := p[0]-gt[0], p[1]-gt[3]
	col := (dx*gt[5] - dy*gt[2]) / det
	row := (dy*gt[1] - dx*gt[4]) / det
	x, y := int(math.Floor(col)), int(math.Floor(row))
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return x, y, false
	}
	return x, y, true
}
