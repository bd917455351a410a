package delivery

import (
	"fmt"

	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

type AreaReport struct {
	Resolution    float64
	ClassKm2      map[delta.Class]float64
	AOIKm2        float64
	ClassifiedKm2 float64
}

func (r *AreaReport) TotalKm2() float64 {
	total := 0.0
	for _, v := range r.ClassKm2 {
		total += v
	}
	return total
}

// AggregateArea sums the area of every class at the given resolution. The
// classification is reduced to the coarse grid by taking the pixel nearest each
// block centre; the block area is the sum of the valid fine pixel areas inside
// it. Blocks count when their centre lies inside the AOI.
func AggregateArea(class, area *raster.Raster, aoi *raster.AOI, resolution float64) (*AreaReport, error) {
	if !class.Grid.Equal(area.Grid) {
		return nil, fmt.Errorf("%w: classification and area rasters are on different grids", raster.ErrInvalidInput)
	}
	if len(class.BandNames()) != 1 {
		return nil, fmt.Errorf("%w: classification must hold a single band, has %v", raster.ErrInvalidInput, class.BandNames())
	}
	classes := class.Bands()[0]
	areas, err := area.Band(raster.AreaBand)
	if err != nil {
		return nil, err
	}

	grid := class.Grid
	factor := grid.Factor(resolution)
	coarse := grid.Coarsen(factor)

	sumsM2 := make([]float64, delta.NumClasses)
	aoiM2 := 0.0
	for by := 0; by < coarse.Height; by++ {
		for bx := 0; bx < coarse.Width; bx++ {
			if aoi != nil && !aoi.Contains(coarse.PixelCenter(bx, by)) {
				continue
			}

			blockM2 := 0.0
			for y := by * factor; y < min((by+1)*factor, grid.Height); y++ {
				for x := bx * factor; x < min((bx+1)*factor, grid.Width); x++ {
					if v, ok := areas.At(grid.Index(x, y)); ok {
						blockM2 += v
					}
				}
			}
			aoiM2 += blockM2

			cx, cy := grid.BlockCenter(bx, by, factor)
			v, ok := classes.At(grid.Index(cx, cy))
			if !ok {
				continue
			}
			c := delta.Class(int(v))
			if !c.Valid() {
				return nil, fmt.Errorf("%w: class value %v outside the class range", raster.ErrInvalidInput, v)
			}
			sumsM2[c] += blockM2
		}
	}

	report := &AreaReport{
		Resolution: resolution,
		ClassKm2:   make(map[delta.Class]float64, delta.NumClasses),
		AOIKm2:     aoiM2 / 1e6,
	}
	for _, c := range delta.Classes() {
		report.ClassKm2[c] = sumsM2[c] / 1e6
		report.ClassifiedKm2 += report.ClassKm2[c]
	}
	return report, nil
}
