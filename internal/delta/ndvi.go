package delta

import (
	"fmt"
	"math"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

const (
	BandNDVIEpoch1 = "ndvi_epoch1"
	BandNDVIEpoch2 = "ndvi_epoch2"
	BandNDVIDelta  = "ndvi_delta"
	BandClass      = "class"
)

// FeatureBands are the classifier inputs, in feature order.
var FeatureBands = []string{BandNDVIEpoch1, BandNDVIEpoch2, BandNDVIDelta}

// BandMapping names the near infrared and red bands of a sensor.
type BandMapping struct {
	NIR string
	Red string
}

// NDVIValue returns the normalised difference of nir and red. The second
// result is false where the index is undefined.
func NDVIValue(nir, red float64) (float64, bool) {
	den := nir + red
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return 0, false
	}
	v := (nir - red) / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	// negative reflectances can push the ratio out of range
	return math.Max(-1, math.Min(1, v)), true
}

func NDVI(r *raster.Raster, m BandMapping, name string) (*raster.Raster, error) {
	nir, err := r.Band(m.NIR)
	if err != nil {
		return nil, fmt.Errorf("ndvi: %w", err)
	}
	red, err := r.Band(m.Red)
	if err != nil {
		return nil, fmt.Errorf("ndvi: %w", err)
	}

	out := raster.NewBand(name, r.Grid.Pixels())
	for i := range out.Values {
		if !nir.Valid[i] || !red.Valid[i] {
			continue
		}
		if v, ok := NDVIValue(nir.Values[i], red.Values[i]); ok {
			out.Set(i, v)
		}
	}
	return raster.New(r.Grid, r.Acquired, out)
}

type Indices struct {
	Epoch1 *raster.Raster
	Epoch2 *raster.Raster
	Delta  *raster.Raster
}

// Compute derives the NDVI of both composites and their difference
// epoch2 - epoch1. Both composites must share a grid.
func Compute(e1, e2 *raster.Raster, m1, m2 BandMapping) (*Indices, error) {
	if !e1.Grid.Equal(e2.Grid) {
		return nil, fmt.Errorf("%w: epoch composites are on different grids", raster.ErrInvalidInput)
	}

	n1, err := NDVI(e1, m1, BandNDVIEpoch1)
	if err != nil {
		return nil, fmt.Errorf("epoch 1: %w", err)
	}
	n2, err := NDVI(e2, m2, BandNDVIEpoch2)
	if err != nil {
		return nil, fmt.Errorf("epoch 2: %w", err)
	}

	b1, _ := n1.Band(BandNDVIEpoch1)
	b2, _ := n2.Band(BandNDVIEpoch2)
	d := raster.NewBand(BandNDVIDelta, e1.Grid.Pixels())
	for i := range d.Values {
		if b1.Valid[i] && b2.Valid[i] {
			d.Set(i, b2.Values[i]-b1.Values[i])
		}
	}
	dr, err := raster.New(e1.Grid, e2.Acquired, d)
	if err != nil {
		return nil, err
	}

	return &Indices{Epoch1: n1, Epoch2: n2, Delta: dr}, nil
}
