package delta

import (
	"fmt"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

// Thresholds bound the stable band of NDVI change. Both bounds are inclusive
// to Stable.
type Thresholds struct {
	Loss float64 `yaml:"loss"`
	Gain float64 `yaml:"gain"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Loss: -0.2, Gain: 0.2}
}

func (t Thresholds) Validate() error {
	if t.Loss >= t.Gain {
		return fmt.Errorf("%w: loss threshold %v must be below gain threshold %v", raster.ErrInvalidInput, t.Loss, t.Gain)
	}
	return nil
}

func Label(d float64, t Thresholds) Class {
	switch {
	case d < t.Loss:
		return Loss
	case d > t.Gain:
		return Gain
	default:
		return Stable
	}
}

// LabelRaster applies Label to the delta band of r. Invalid deltas give invalid
// labels.
func LabelRaster(r *raster.Raster, t Thresholds) (*raster.Raster, error) {
	d, err := r.Band(BandNDVIDelta)
	if err != nil {
		return nil, fmt.Errorf("label: %w", err)
	}

	out := raster.NewBand(BandClass, len(d.Values))
	for i, v := range d.Values {
		if d.Valid[i] {
			out.Set(i, float64(Label(v, t)))
		}
	}
	return raster.New(r.Grid, r.Acquired, out)
}

// FeatureStack combines the indices and their heuristic labels into the
// four band raster the sampler draws from.
func FeatureStack(ix *Indices, t Thresholds) (*raster.Raster, error) {
	labels, err := LabelRaster(ix.Delta, t)
	if err != nil {
		return nil, err
	}
	return ix.Epoch1.AddBands(ix.Epoch2, ix.Delta, labels)
}
