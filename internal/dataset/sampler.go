package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"go.uber.org/zap"
)

var ErrInsufficientSamples = errors.New("insufficient samples")

// Sampler draws labelled pixels from a feature stack. Resolution is the spacing
// of the sampling grid in metres; one candidate is taken per block, at the
// pixel nearest its centre.
type Sampler struct {
	Count      int
	Resolution float64
	Seed       int64
	Logger     *zap.Logger
}

func (s Sampler) Sample(stack *raster.Raster, aoi *raster.AOI) (*SampleSet, error) {
	if s.Count <= 0 {
		return nil, fmt.Errorf("%w: sample count %d", raster.ErrInvalidInput, s.Count)
	}

	bands := make([]raster.Band, 0, 4)
	for _, name := range []string{delta.BandNDVIEpoch1, delta.BandNDVIEpoch2, delta.BandNDVIDelta, delta.BandClass} {
		b, err := stack.Band(name)
		if err != nil {
			return nil, fmt.Errorf("sample: %w", err)
		}
		bands = append(bands, b)
	}

	grid := stack.Grid
	factor := grid.Factor(s.Resolution)
	blocks := grid.Coarsen(factor)

	var candidates []int
	for by := 0; by < blocks.Height; by++ {
		for bx := 0; bx < blocks.Width; bx++ {
			x, y := grid.BlockCenter(bx, by, factor)
			if aoi != nil && !aoi.Contains(grid.PixelCenter(x, y)) {
				continue
			}
			p := grid.Index(x, y)
			if validInAll(bands, p) {
				candidates = append(candidates, p)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no valid pixel inside the aoi at %v resolution", ErrInsufficientSamples, s.Resolution)
	}

	// partial Fisher-Yates; the first k entries are a uniform draw
	rng := rand.New(rand.NewSource(s.Seed))
	k := min(s.Count, len(candidates))
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	set := &SampleSet{Seed: s.Seed, Width: grid.Width, Samples: make([]Sample, 0, k)}
	for _, p := range candidates[:k] {
		x, y := p%grid.Width, p/grid.Width
		centre := grid.PixelCenter(x, y)
		set.Samples = append(set.Samples, Sample{
			X:          x,
			Y:          y,
			Easting:    centre[0],
			Northing:   centre[1],
			NDVIEpoch1: bands[0].Values[p],
			NDVIEpoch2: bands[1].Values[p],
			NDVIDelta:  bands[2].Values[p],
			Class:      int(bands[3].Values[p]),
		})
	}
	set.sortByPixel()

	s.logger().Info("samples drawn",
		zap.Int("candidates", len(candidates)),
		zap.Int("samples", k),
		zap.Int("block", factor),
		zap.Int64("seed", s.Seed))
	return set, nil
}

func validInAll(bands []raster.Band, p int) bool {
	for _, b := range bands {
		if !b.Valid[p] {
			return false
		}
	}
	return true
}

func (s Sampler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
