package composite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/utils"
	"github.com/gammazero/workerpool"
)

var ErrEmptyCollection = errors.New("empty collection")

type Options struct {
	Workers      int
	ShowProgress bool
}

// Median reduces a cloud masked collection to one raster holding, per band and
// pixel, the median of the valid observations. An even number of observations
// yields the mean of the two middle values. Pixels never observed, and pixels
// outside aoi, are invalid.
func Median(ctx context.Context, c *raster.Collection, aoi *raster.AOI, opts Options) (*raster.Raster, error) {
	images := c.Images()
	if len(images) == 0 {
		return nil, ErrEmptyCollection
	}

	grid := images[0].Grid
	for _, img := range images[1:] {
		if !img.Grid.Equal(grid) {
			return nil, fmt.Errorf("%w: scene %s is not on the collection grid",
				raster.ErrInvalidInput, img.Acquired.Format("2006-01-02"))
		}
	}

	names := images[0].BandNames()
	inputs := make([][]raster.Band, len(names))
	for b, name := range names {
		inputs[b] = make([]raster.Band, len(images))
		for i, img := range images {
			band, err := img.Band(name)
			if err != nil {
				return nil, err
			}
			inputs[b][i] = band
		}
	}

	var inside []bool
	if aoi != nil {
		inside = aoi.Mask(grid)
	}

	outputs := make([]raster.Band, len(names))
	for b, name := range names {
		outputs[b] = raster.NewBand(name, grid.Pixels())
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	var (
		wp          = workerpool.New(workers)
		progressBar = utils.NewProgressBar(grid.Height, "Compositing median", opts.ShowProgress)
		errChan     = make(chan error, 1)
		stop        sync.Once
	)

	for y := 0; y < grid.Height; y++ {
		row := y
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				stop.Do(func() { errChan <- err })
				return
			}
			scratch := make([]float64, 0, len(images))
			for x := 0; x < grid.Width; x++ {
				p := grid.Index(x, row)
				if inside != nil && !inside[p] {
					continue
				}
				for b := range names {
					scratch = scratch[:0]
					for _, band := range inputs[b] {
						if band.Valid[p] {
							scratch = append(scratch, band.Values[p])
						}
					}
					if len(scratch) == 0 {
						continue
					}
					outputs[b].Set(p, median(scratch))
				}
			}
			_ = progressBar.Add(1)
		})
	}
	wp.StopWait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	return raster.New(grid, images[0].Acquired, outputs...)
}

// median sorts values in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
