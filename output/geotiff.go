package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/utils"
	"go.uber.org/zap"
)

var ErrPixelBudget = errors.New("export exceeds pixel budget")

const NoData = -9999

// GeoTIFFSink writes exported rasters as Float32 GeoTIFFs named
// <destination>.tif under Dir.
type GeoTIFFSink struct {
	Dir    string
	Logger *zap.Logger
}

func NewGeoTIFFSink(dir string, logger *zap.Logger) *GeoTIFFSink {
	return &GeoTIFFSink{Dir: dir, Logger: logger}
}

// ExportRaster resamples r to resolution by nearest pixel, clips it to aoi and
// writes it. Resolutions finer than the raster keep its native grid.
func (s *GeoTIFFSink) ExportRaster(ctx context.Context, r *raster.Raster, aoi *raster.AOI, resolution float64, maxPixels int64, destinationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if destinationID == "" {
		return fmt.Errorf("%w: empty export destination", raster.ErrInvalidInput)
	}

	out, err := raster.ResampleTo(r, resolution)
	if err != nil {
		return fmt.Errorf("failed to resample export: %w", err)
	}
	if aoi != nil {
		out = out.Clip(aoi)
	}
	if pixels := int64(out.Grid.Pixels()) * int64(len(out.BandNames())); pixels > maxPixels {
		return fmt.Errorf("%w: %d pixels, limit %d", ErrPixelBudget, pixels, maxPixels)
	}

	if err := os.MkdirAll(s.Dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create export folder: %w", err)
	}
	path := s.Path(destinationID)

	utils.ExecuteWithMutex(func() {
		err = writeGeoTIFF(path, out)
	})
	if err != nil {
		return err
	}

	s.logger().Info("raster exported",
		zap.String("path", path),
		zap.Int("width", out.Grid.Width),
		zap.Int("height", out.Grid.Height))
	return nil
}

func (s *GeoTIFFSink) Path(destinationID string) string {
	return filepath.Join(s.Dir, destinationID+".tif")
}

func writeGeoTIFF(path string, r *raster.Raster) error {
	g := r.Grid
	bands := r.Bands()

	tmp := path + ".tmp"
	ds, err := godal.Create(godal.GTiff, tmp, len(bands), godal.Float32, g.Width, g.Height)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := fillDataset(ds, g, bands); err != nil {
		ds.Close()
		os.Remove(tmp)
		return err
	}
	if err := ds.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func fillDataset(ds *godal.Dataset, g raster.Grid, bands []raster.Band) error {
	if err := ds.SetGeoTransform(g.GeoTransform); err != nil {
		return fmt.Errorf("failed to set geotransform: %w", err)
	}
	if g.CRS != "" {
		if err := ds.SetProjection(g.CRS); err != nil {
			return fmt.Errorf("failed to set projection: %w", err)
		}
	}

	data := make([]float32, g.Pixels())
	for i, b := range bands {
		band := ds.Bands()[i]
		if err := band.SetNoData(NoData); err != nil {
			return fmt.Errorf("failed to set nodata on band %s: %w", b.Name, err)
		}
		for p, v := range b.Values {
			if b.Valid[p] {
				data[p] = float32(v)
			} else {
				data[p] = NoData
			}
		}
		if err := band.Write(0, 0, data, g.Width, g.Height); err != nil {
			return fmt.Errorf("failed to write band %s: %w", b.Name, err)
		}
	}
	return nil
}

func (s *GeoTIFFSink) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
