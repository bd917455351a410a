package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

// Split divides set into a training and a test set, holding out testFraction of
// the samples. A zero fraction returns set for both, so accuracy is then
// measured on the training data.
func Split(set *SampleSet, testFraction float64, seed int64) (*SampleSet, *SampleSet, error) {
	if testFraction < 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("%w: test fraction %v outside [0,1)", raster.ErrInvalidInput, testFraction)
	}
	if testFraction == 0 {
		return set, set, nil
	}

	n := len(set.Samples)
	testSize := int(math.Round(float64(n) * testFraction))
	if testSize < 1 {
		testSize = 1
	}
	if testSize >= n {
		return nil, nil, fmt.Errorf("%w: %d samples cannot hold out %d for testing", ErrInsufficientSamples, n, testSize)
	}

	order := rand.New(rand.NewSource(seed)).Perm(n)
	test := &SampleSet{Seed: set.Seed, Width: set.Width}
	train := &SampleSet{Seed: set.Seed, Width: set.Width}
	for i, idx := range order {
		if i < testSize {
			test.Samples = append(test.Samples, set.Samples[idx])
		} else {
			train.Samples = append(train.Samples, set.Samples[idx])
		}
	}
	test.sortByPixel()
	train.sortByPixel()
	return train, test, nil
}
