package output

import (
	"fmt"
	"path/filepath"

	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/properties"
)

type ResultFiles struct {
	Image   string
	GeoJSON string
	CSV     string
}

// ResultDir is where run artefacts for an AOI are written.
func ResultDir(aoi string) string {
	return filepath.Join(properties.RootPath(), "data", "result", aoi)
}

// WriteResults writes the classification PNG, area GeoJSON and area CSV of
// report into dir, named after the run.
func WriteResults(report *delivery.Report, dir string) (*ResultFiles, error) {
	base := filepath.Join(dir, report.RunID)
	files := &ResultFiles{
		Image:   base + ".png",
		GeoJSON: base + ".geojson",
		CSV:     base + "_area.csv",
	}

	if report.Classification != nil {
		if err := CreateClassificationImage(report.Classification, files.Image); err != nil {
			return nil, fmt.Errorf("error creating classification image: %w", err)
		}
	} else {
		files.Image = ""
	}
	if err := CreateAreaGeoJSON(report, report.Region, files.GeoJSON); err != nil {
		return nil, err
	}
	if err := WriteAreaCSV(report, files.CSV); err != nil {
		return nil, err
	}
	return files, nil
}
