package raster

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// AOI is the immutable area of interest, expressed in the raster CRS.
type AOI struct {
	Name     string
	geometry orb.MultiPolygon
	bound    orb.Bound
}

func NewAOI(name string, g orb.Geometry) (*AOI, error) {
	var mp orb.MultiPolygon
	switch geom := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		mp = geom
	case orb.Bound:
		mp = orb.MultiPolygon{geom.ToPolygon()}
	default:
		return nil, fmt.Errorf("%w: aoi geometry %T is not a polygon", ErrInvalidInput, g)
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("%w: empty aoi geometry", ErrInvalidInput)
	}
	return &AOI{Name: name, geometry: mp, bound: mp.Bound()}, nil
}

// LoadAOI reads a GeoJSON feature collection and keeps the features whose
// property equals value. An empty property keeps every feature.
func LoadAOI(path, property, value string) (*AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aoi file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal aoi geojson: %w", err)
	}

	var mp orb.MultiPolygon
	for _, f := range fc.Features {
		if property != "" && f.Properties.MustString(property, "") != value {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = append(mp, g)
		case orb.MultiPolygon:
			mp = append(mp, g...)
		}
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("%w: no polygon feature with %s=%q in %s", ErrInvalidInput, property, value, path)
	}

	name := value
	if name == "" {
		name = path
	}
	return NewAOI(name, mp)
}

func (a *AOI) Geometry() orb.MultiPolygon {
	return a.geometry
}

func (a *AOI) Bound() orb.Bound {
	return a.bound
}

func (a *AOI) Contains(p orb.Point) bool {
	if !a.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(a.geometry, p)
}

func (a *AOI) Intersects(b orb.Bound) bool {
	return a.bound.Intersects(b)
}

// Mask marks the pixels of g whose centre lies inside the AOI.
func (a *AOI) Mask(g Grid) []bool {
	mask := make([]bool, g.Pixels())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			mask[g.Index(x, y)] = a.Contains(g.PixelCenter(x, y))
		}
	}
	return mask
}
