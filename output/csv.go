package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/gocarina/gocsv"
)

type AreaRow struct {
	RunID      string  `csv:"run_id"`
	Class      string  `csv:"class"`
	AreaKm2    float64 `csv:"area_km2"`
	ShareOfAOI float64 `csv:"share_of_aoi"`
	Resolution float64 `csv:"resolution_m"`
}

func areaRows(runID string, area *delivery.AreaReport) []*AreaRow {
	rows := make([]*AreaRow, 0, delta.NumClasses+1)
	add := func(name string, km2 float64) {
		share := 0.0
		if area.AOIKm2 > 0 {
			share = km2 / area.AOIKm2
		}
		rows = append(rows, &AreaRow{
			RunID:      runID,
			Class:      name,
			AreaKm2:    km2,
			ShareOfAOI: share,
			Resolution: area.Resolution,
		})
	}
	for _, c := range delta.Classes() {
		add(c.String(), area.ClassKm2[c])
	}
	add("aoi", area.AOIKm2)
	return rows
}

// WriteAreaCSV writes one row per class plus a final aoi row.
func WriteAreaCSV(report *delivery.Report, outputPath string) error {
	if report.Area == nil {
		return fmt.Errorf("report %s has no area", report.RunID)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create result folder: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	rows := areaRows(report.RunID, report.Area)
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}
