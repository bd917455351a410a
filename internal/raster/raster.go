package raster

import (
	"fmt"
	"math"
	"time"
)

// Band is a single named layer. Valid[i] is false where the pixel holds no data;
// Values[i] is meaningless there.
type Band struct {
	Name   string
	Values []float64
	Valid  []bool
}

func NewBand(name string, size int) Band {
	return Band{
		Name:   name,
		Values: make([]float64, size),
		Valid:  make([]bool, size),
	}
}

func (b Band) At(i int) (float64, bool) {
	return b.Values[i], b.Valid[i]
}

func (b Band) Set(i int, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		b.Valid[i] = false
		b.Values[i] = 0
		return
	}
	b.Values[i] = v
	b.Valid[i] = true
}

func (b Band) ValidCount() int {
	n := 0
	for _, ok := range b.Valid {
		if ok {
			n++
		}
	}
	return n
}

func (b Band) clone() Band {
	out := Band{
		Name:   b.Name,
		Values: make([]float64, len(b.Values)),
		Valid:  make([]bool, len(b.Valid)),
	}
	copy(out.Values, b.Values)
	copy(out.Valid, b.Valid)
	return out
}

// Raster is an immutable multi-band image on a grid. Every operation returns a
// new Raster; band slices handed to New must not be modified afterwards.
type Raster struct {
	Grid     Grid
	Acquired time.Time
	bands    []Band
}

func New(grid Grid, acquired time.Time, bands ...Band) (*Raster, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(bands))
	for _, b := range bands {
		if b.Name == "" {
			return nil, fmt.Errorf("%w: unnamed band", ErrInvalidInput)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("%w: duplicate band %q", ErrInvalidInput, b.Name)
		}
		seen[b.Name] = true
		if len(b.Values) != grid.Pixels() || len(b.Valid) != grid.Pixels() {
			return nil, fmt.Errorf("%w: band %q has %d values, grid has %d pixels",
				ErrInvalidInput, b.Name, len(b.Values), grid.Pixels())
		}
	}
	return &Raster{Grid: grid, Acquired: acquired, bands: bands}, nil
}

func (r *Raster) Band(name string) (Band, error) {
	for _, b := range r.bands {
		if b.Name == name {
			return b, nil
		}
	}
	return Band{}, fmt.Errorf("%w: band %q not found (have %v)", ErrInvalidInput, name, r.BandNames())
}

func (r *Raster) HasBand(name string) bool {
	_, err := r.Band(name)
	return err == nil
}

func (r *Raster) BandNames() []string {
	names := make([]string, len(r.bands))
	for i, b := range r.bands {
		names[i] = b.Name
	}
	return names
}

func (r *Raster) Bands() []Band {
	out := make([]Band, len(r.bands))
	copy(out, r.bands)
	return out
}

// Select returns a raster holding only the named bands, in the given order.
func (r *Raster) Select(names ...string) (*Raster, error) {
	bands := make([]Band, 0, len(names))
	for _, name := range names {
		b, err := r.Band(name)
		if err != nil {
			return nil, err
		}
		bands = append(bands, b)
	}
	return New(r.Grid, r.Acquired, bands...)
}

// AddBands appends the bands of other. Both rasters must share a grid.
func (r *Raster) AddBands(others ...*Raster) (*Raster, error) {
	bands := r.Bands()
	for _, o := range others {
		if !r.Grid.Equal(o.Grid) {
			return nil, fmt.Errorf("%w: grid mismatch %dx%d vs %dx%d",
				ErrInvalidInput, r.Grid.Width, r.Grid.Height, o.Grid.Width, o.Grid.Height)
		}
		bands = append(bands, o.bands...)
	}
	return New(r.Grid, r.Acquired, bands...)
}

// Rename returns the raster with band from renamed to to.
func (r *Raster) Rename(from, to string) (*Raster, error) {
	bands := r.Bands()
	found := false
	for i := range bands {
		if bands[i].Name == from {
			bands[i].Name = to
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: band %q not found", ErrInvalidInput, from)
	}
	return New(r.Grid, r.Acquired, bands...)
}

// Clip invalidates every pixel whose centre falls outside aoi. A nil aoi keeps
// every pixel.
func (r *Raster) Clip(aoi *AOI) *Raster {
	if aoi == nil {
		return r
	}
	inside := aoi.Mask(r.Grid)
	return r.WithMask(inside)
}

// WithMask invalidates every pixel where keep is false.
func (r *Raster) WithMask(keep []bool) *Raster {
	bands := make([]Band, len(r.bands))
	for i, b := range r.bands {
		c := b.clone()
		for p := range c.Valid {
			if !keep[p] {
				c.Valid[p] = false
			}
		}
		bands[i] = c
	}
	return &Raster{Grid: r.Grid, Acquired: r.Acquired, bands: bands}
}

// EstimateBytes approximates the in-memory size of a raster with the given number
// of bands on grid g.
func EstimateBytes(g Grid, bands int) uint64 {
	// 8 bytes per value plus one validity byte
	return uint64(g.Pixels()) * uint64(bands) * 9
}
