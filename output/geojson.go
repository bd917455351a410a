package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/paulmach/orb/geojson"
)

// CreateAreaGeoJSON writes the AOI outline with the per-class areas of report
// as feature properties.
func CreateAreaGeoJSON(report *delivery.Report, aoi *raster.AOI, outputPath string) error {
	if report.Area == nil || aoi == nil {
		return fmt.Errorf("%w: report has no area or aoi", raster.ErrInvalidInput)
	}

	feature := geojson.NewFeature(aoi.Geometry())
	feature.Properties["run_id"] = report.RunID
	feature.Properties["aoi"] = aoi.Name
	feature.Properties["resolution_m"] = report.Area.Resolution
	feature.Properties["aoi_km2"] = report.Area.AOIKm2
	for _, c := range delta.Classes() {
		feature.Properties[c.String()+"_km2"] = report.Area.ClassKm2[c]
	}
	feature.Properties["accuracy"] = report.Accuracy()
	feature.Properties["training_set_accuracy"] = report.TrainingSetAccuracy

	fc := geojson.NewFeatureCollection()
	fc.Append(feature)

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("error encoding GeoJSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create result folder: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("error creating GeoJSON file: %w", err)
	}
	return nil
}
