package landsat

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/utils"
)

var sceneDatePattern = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})\.tif$`)

// SceneDate extracts the acquisition date from a file named *_YYYY-MM-DD.tif.
func SceneDate(path string) (time.Time, bool) {
	m := sceneDatePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return time.Time{}, false
	}
	date, err := time.Parse(time.DateOnly, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// ReadScene loads a multi-band GeoTIFF. Band i of the file is named bandNames[i];
// pixels equal to the band no-data value are invalid.
func ReadScene(path string, bandNames []string, acquired time.Time) (*raster.Raster, error) {
	var (
		result *raster.Raster
		err    error
	)
	utils.ExecuteWithMutex(func() {
		result, err = readScene(path, bandNames, acquired)
	})
	return result, err
}

func readScene(path string, bandNames []string, acquired time.Time) (*raster.Raster, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scene %s: %w", path, err)
	}
	defer ds.Close()

	structure := ds.Structure()
	if structure.NBands < len(bandNames) {
		return nil, fmt.Errorf("%w: scene %s has %d bands, expected %d",
			raster.ErrInvalidInput, path, structure.NBands, len(bandNames))
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to get geotransform of %s: %w", path, err)
	}

	wkt := ds.Projection()
	grid := raster.Grid{
		Width:        structure.SizeX,
		Height:       structure.SizeY,
		GeoTransform: gt,
		CRS:          wkt,
		Units:        unitsOf(wkt),
	}

	width, height := structure.SizeX, structure.SizeY
	dsBands := ds.Bands()
	bands := make([]raster.Band, 0, len(bandNames))
	for i, name := range bandNames {
		data := make([]float64, width*height)
		if err := dsBands[i].Read(0, 0, data, width, height); err != nil {
			return nil, fmt.Errorf("failed to read band %s of %s: %w", name, path, err)
		}
		nodata, hasNoData := dsBands[i].NoData()

		b := raster.NewBand(name, len(data))
		for p, v := range data {
			if hasNoData && v == nodata {
				continue
			}
			b.Set(p, v)
		}
		bands = append(bands, b)
	}

	return raster.New(grid, acquired, bands...)
}

func unitsOf(wkt string) raster.Units {
	if strings.HasPrefix(wkt, "GEOGCS") || strings.HasPrefix(wkt, "GEOGCRS") {
		return raster.Degrees
	}
	return raster.Metres
}
