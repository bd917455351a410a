package landsat

import (
	"fmt"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

// MaskParams drives cloud masking of Collection 2 Level-2 scenes. Bits refer to
// positions in the QA band, counted from the least significant bit.
type MaskParams struct {
	QABand    string
	CloudBit  uint
	ShadowBit uint
	Scale     float64
	Offset    float64
}

func DefaultMaskParams() MaskParams {
	return MaskParams{
		QABand:    "QA_PIXEL",
		CloudBit:  3,
		ShadowBit: 5,
		Scale:     0.0000275,
		Offset:    -0.2,
	}
}

// MaskClouds invalidates every pixel flagged as cloud or cloud shadow and
// rescales the remaining digital numbers to surface reflectance. The QA band is
// consumed and does not appear in the result.
func MaskClouds(r *raster.Raster, p MaskParams) (*raster.Raster, error) {
	qa, err := r.Band(p.QABand)
	if err != nil {
		return nil, fmt.Errorf("cloud mask: %w", err)
	}

	flags := uint64(1)<<p.CloudBit | uint64(1)<<p.ShadowBit
	clear := make([]bool, len(qa.Values))
	for i, v := range qa.Values {
		if !qa.Valid[i] || v < 0 {
			continue
		}
		clear[i] = uint64(v)&flags == 0
	}

	var bands []raster.Band
	for _, b := range r.Bands() {
		if b.Name == p.QABand {
			continue
		}
		out := raster.NewBand(b.Name, len(b.Values))
		for i, v := range b.Values {
			if !clear[i] || !b.Valid[i] {
				continue
			}
			out.Set(i, v*p.Scale+p.Offset)
		}
		bands = append(bands, out)
	}

	return raster.New(r.Grid, r.Acquired, bands...)
}

// MaskCollection applies MaskClouds to every scene of c.
func MaskCollection(c *raster.Collection, p MaskParams) (*raster.Collection, error) {
	return c.Map(func(r *raster.Raster) (*raster.Raster, error) {
		return MaskClouds(r, p)
	})
}
