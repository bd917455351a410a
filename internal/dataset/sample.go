package dataset

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

// Sample is one labelled pixel. X and Y are pixel coordinates on the feature
// grid, Easting and Northing the CRS coordinates of its centre.
type Sample struct {
	X          int     `csv:"x"`
	Y          int     `csv:"y"`
	Easting    float64 `csv:"easting"`
	Northing   float64 `csv:"northing"`
	NDVIEpoch1 float64 `csv:"ndvi_epoch1"`
	NDVIEpoch2 float64 `csv:"ndvi_epoch2"`
	NDVIDelta  float64 `csv:"ndvi_delta"`
	Class      int     `csv:"class"`
}

func (s Sample) Features() []float64 {
	return []float64{s.NDVIEpoch1, s.NDVIEpoch2, s.NDVIDelta}
}

// SampleSet holds samples in row major pixel order together with the seed
// they were drawn with.
type SampleSet struct {
	Seed    int64
	Width   int
	Samples []Sample
}

func (s *SampleSet) Len() int {
	return len(s.Samples)
}

func (s *SampleSet) Features() [][]float64 {
	out := make([][]float64, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Features()
	}
	return out
}

func (s *SampleSet) Labels() []int {
	out := make([]int, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Class
	}
	return out
}

// ClassCounts returns the number of samples per class.
func (s *SampleSet) ClassCounts() map[delta.Class]int {
	counts := make(map[delta.Class]int, delta.NumClasses)
	for _, c := range delta.Classes() {
		counts[c] = 0
	}
	for _, sample := range s.Samples {
		counts[delta.Class(sample.Class)]++
	}
	return counts
}

// Digest identifies the content of the set. Equal samples give equal digests.
func (s *SampleSet) Digest() string {
	h := sha1.New()
	for _, sample := range s.Samples {
		fmt.Fprintf(h, "%d,%d,%v,%v,%v,%d\n", sample.X, sample.Y,
			sample.NDVIEpoch1, sample.NDVIEpoch2, sample.NDVIDelta, sample.Class)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fit checks that every sample lies on g and carries a known class, then
// orders the samples by pixel index on g.
func (s *SampleSet) Fit(g raster.Grid) error {
	if len(s.Samples) == 0 {
		return ErrInsufficientSamples
	}
	for i, sample := range s.Samples {
		if sample.X < 0 || sample.Y < 0 || sample.X >= g.Width || sample.Y >= g.Height {
			return fmt.Errorf("%w: sample %d at pixel (%d, %d) is outside the %dx%d grid",
				raster.ErrInvalidInput, i, sample.X, sample.Y, g.Width, g.Height)
		}
		if !delta.Class(sample.Class).Valid() {
			return fmt.Errorf("%w: sample %d has unknown class %d", raster.ErrInvalidInput, i, sample.Class)
		}
	}
	s.Width = g.Width
	s.sortByPixel()
	return nil
}

func (s *SampleSet) sortByPixel() {
	w := s.Width
	sort.Slice(s.Samples, func(i, j int) bool {
		a, b := s.Samples[i], s.Samples[j]
		return a.Y*w+a.X < b.Y*w+b.X
	})
}
