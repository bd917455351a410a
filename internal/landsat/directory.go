package landsat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"go.uber.org/zap"
)

// DirectorySource serves collections from GeoTIFF scenes stored under
// <Root>/<catalog>/ and named *_YYYY-MM-DD.tif. Bands lists, per catalog, the
// band names in file order.
type DirectorySource struct {
	Root   string
	Bands  map[string][]string
	Logger *zap.Logger
}

func NewDirectorySource(root string, bands map[string][]string, logger *zap.Logger) *DirectorySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectorySource{Root: root, Bands: bands, Logger: logger}
}

// CatalogDir maps a catalog id such as LANDSAT/LC08/C02/T1_L2 to its directory.
func (s *DirectorySource) CatalogDir(catalogID string) string {
	return filepath.Join(s.Root, strings.ReplaceAll(catalogID, "/", "_"))
}

// FetchCollection reads every scene of the catalog acquired within dr whose
// footprint intersects the AOI. Scenes are aligned to the grid of the earliest
// one.
func (s *DirectorySource) FetchCollection(ctx context.Context, catalogID string, aoi *raster.AOI, dr raster.DateRange) (*raster.Collection, error) {
	bandNames, ok := s.Bands[catalogID]
	if !ok || len(bandNames) == 0 {
		return nil, fmt.Errorf("%w: no band layout configured for catalog %s", raster.ErrInvalidInput, catalogID)
	}

	dir := s.CatalogDir(catalogID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger().Warn("catalog directory missing", zap.String("dir", dir))
			return raster.NewCollection()
		}
		return nil, fmt.Errorf("failed to list scenes in %s: %w", dir, err)
	}

	var scenes []*raster.Raster
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		date, ok := SceneDate(entry.Name())
		if !ok || !dr.Contains(date) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		scene, err := ReadScene(path, bandNames, date)
		if err != nil {
			return nil, err
		}
		if aoi != nil && !aoi.Intersects(scene.Grid.Bound()) {
			s.logger().Debug("scene outside aoi", zap.String("scene", entry.Name()))
			continue
		}
		s.logger().Debug("scene loaded",
			zap.String("scene", entry.Name()),
			zap.Time("acquired", date),
			zap.Int("width", scene.Grid.Width),
			zap.Int("height", scene.Grid.Height))
		scenes = append(scenes, scene)
	}

	collection, err := alignScenes(scenes)
	if err != nil {
		return nil, err
	}

	s.logger().Info("collection loaded",
		zap.String("catalog", catalogID),
		zap.Stringer("range", dr),
		zap.Int("scenes", collection.Len()))
	return collection, nil
}

func alignScenes(scenes []*raster.Raster) (*raster.Collection, error) {
	if len(scenes) == 0 {
		return raster.NewCollection()
	}
	earliest := scenes[0]
	for _, s := range scenes[1:] {
		if s.Acquired.Before(earliest.Acquired) {
			earliest = s
		}
	}

	aligned := make([]*raster.Raster, 0, len(scenes))
	for _, s := range scenes {
		r, err := raster.Resample(s, earliest.Grid)
		if err != nil {
			return nil, fmt.Errorf("failed to align scene %s: %w", s.Acquired.Format(time.DateOnly), err)
		}
		aligned = append(aligned, r)
	}
	return raster.NewCollection(aligned...)
}

// PixelAreaRaster returns the per pixel area in square metres over grid,
// invalid outside the AOI.
func (s *DirectorySource) PixelAreaRaster(ctx context.Context, aoi *raster.AOI, grid raster.Grid) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	area, err := raster.PixelArea(grid)
	if err != nil {
		return nil, err
	}
	return area.Clip(aoi), nil
}

func (s *DirectorySource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
