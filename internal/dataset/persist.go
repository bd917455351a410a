package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

func SaveCSV(set *SampleSet, filePath string) error {
	if set == nil || len(set.Samples) == 0 {
		return fmt.Errorf("no samples to save")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create samples directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create samples file: %w", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&set.Samples, file); err != nil {
		return fmt.Errorf("failed to save samples to file: %w", err)
	}
	return nil
}

// LoadCSV reads samples written by SaveCSV. It returns nil when the file does
// not exist.
func LoadCSV(filePath string, seed int64, width int) (*SampleSet, error) {
	if !fileExists(filePath) {
		return nil, nil
	}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open samples file: %w", err)
	}
	defer file.Close()

	var samples []Sample
	if err := gocsv.UnmarshalFile(file, &samples); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}

	set := &SampleSet{Seed: seed, Width: width, Samples: samples}
	set.sortByPixel()
	return set, nil
}
