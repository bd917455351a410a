package raster

// Resample maps r onto target using the nearest source pixel for every target
// pixel centre. Target pixels falling outside r are invalid.
func Resample(r *Raster, target Grid) (*Raster, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if r.Grid.Equal(target) {
		return r, nil
	}

	src := make([]int, target.Pixels())
	for y := 0; y < target.Height; y++ {
		for x := 0; x < target.Width; x++ {
			sx, sy, ok := r.Grid.Locate(target.PixelCenter(x, y))
			if !ok {
				src[target.Index(x, y)] = -1
				continue
			}
			src[target.Index(x, y)] = r.Grid.Index(sx, sy)
		}
	}

	bands := make([]Band, 0, len(r.bands))
	for _, b := range r.bands {
		out := NewBand(b.Name, target.Pixels())
		for i, s := range src {
			if s < 0 || !b.Valid[s] {
				continue
			}
			out.Values[i] = b.Values[s]
			out.Valid[i] = true
		}
		bands = append(bands, out)
	}
	return New(target, r.Acquired, bands...)
}

// ResampleTo resamples r onto a grid aligned with its own but with the given
// pixel size in metres.
func ResampleTo(r *Raster, resolution float64) (*Raster, error) {
	return Resample(r, r.Grid.Coarsen(r.Grid.Factor(resolution)))
}
