package raster

import (
	"fmt"
	"slices"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/utils"
)

// DateRange is half open: Start is included, End is not.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (d DateRange) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

func (d DateRange) Validate() error {
	if !d.Start.Before(d.End) {
		return fmt.Errorf("%w: empty date range %s", ErrInvalidInput, d)
	}
	return nil
}

func (d DateRange) String() string {
	return fmt.Sprintf("%s..%s", d.Start.Format(time.DateOnly), d.End.Format(time.DateOnly))
}

// Collection is an acquisition-ordered set of rasters sharing one band schema.
type Collection struct {
	images []*Raster
}

func NewCollection(images ...*Raster) (*Collection, error) {
	sorted := make([]*Raster, len(images))
	copy(sorted, images)
	utils.SortByDate(sorted, func(r *Raster) time.Time { return r.Acquired }, true)

	if len(sorted) > 1 {
		schema := sorted[0].BandNames()
		for _, img := range sorted[1:] {
			if !slices.Equal(schema, img.BandNames()) {
				return nil, fmt.Errorf("%w: band schema %v differs from %v",
					ErrInvalidInput, img.BandNames(), schema)
			}
		}
	}
	return &Collection{images: sorted}, nil
}

func (c *Collection) Len() int {
	return len(c.images)
}

func (c *Collection) Images() []*Raster {
	out := make([]*Raster, len(c.images))
	copy(out, c.images)
	return out
}

func (c *Collection) Filter(keep func(*Raster) bool) *Collection {
	out := make([]*Raster, 0, len(c.images))
	for _, img := range c.images {
		if keep(img) {
			out = append(out, img)
		}
	}
	return &Collection{images: out}
}

func (c *Collection) FilterDate(dr DateRange) *Collection {
	return c.Filter(func(r *Raster) bool { return dr.Contains(r.Acquired) })
}

func (c *Collection) Map(fn func(*Raster) (*Raster, error)) (*Collection, error) {
	out := make([]*Raster, 0, len(c.images))
	for _, img := range c.images {
		mapped, err := fn(img)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", img.Acquired.Format(time.DateOnly), err)
		}
		out = append(out, mapped)
	}
	return NewCollection(out...)
}
