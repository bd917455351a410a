package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{raster.ErrInvalidInput}, args...)...))
	}

	if c.AOI.Path == "" {
		fail("aoi.path is required")
	}

	if len(c.Epochs) != 2 {
		fail("exactly two epochs are required, got %d", len(c.Epochs))
	}
	for i, e := range c.Epochs {
		if _, err := e.Range(); err != nil {
			errs = append(errs, err)
		}
		s := e.Sensor
		if s.Catalog == "" {
			fail("epochs[%d].sensor.catalog is required", i)
		}
		for _, name := range []string{s.NIR, s.Red, s.QABand} {
			if name == "" || !slices.Contains(s.Bands, name) {
				fail("epochs[%d].sensor.bands %v must include %q", i, s.Bands, name)
			}
		}
	}
	if len(c.Epochs) == 2 {
		r1, err1 := c.Epochs[0].Range()
		r2, err2 := c.Epochs[1].Range()
		if err1 == nil && err2 == nil && !r1.Start.Before(r2.Start) {
			fail("epoch %s must start before epoch %s", c.Epochs[0].Name, c.Epochs[1].Name)
		}
		// a catalog is read with a single band layout
		s1, s2 := c.Epochs[0].Sensor, c.Epochs[1].Sensor
		if s1.Catalog == s2.Catalog && !slices.Equal(s1.Bands, s2.Bands) {
			fail("epochs sharing catalog %s must list the same bands, got %v and %v", s1.Catalog, s1.Bands, s2.Bands)
		}
	}

	if c.CloudMask.CloudBit > 15 || c.CloudMask.ShadowBit > 15 {
		fail("cloud mask bits must be within a 16 bit QA band")
	}
	if c.CloudMask.Scale == 0 {
		fail("cloud_mask.scale must not be zero")
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Sampling.Count <= 0 {
		fail("sampling.count must be positive")
	}
	if c.Sampling.Resolution <= 0 {
		fail("sampling.resolution must be positive")
	}
	if c.Sampling.TestFraction < 0 || c.Sampling.TestFraction >= 1 {
		fail("sampling.test_fraction must be in [0,1)")
	}

	if c.Model.Trees < 1 {
		fail("model.trees must be at least 1")
	}
	if c.Model.MinLeaf < 1 {
		fail("model.min_leaf must be at least 1")
	}
	if c.Model.MaxDepth < 0 {
		fail("model.max_depth must not be negative")
	}
	switch c.Model.Backend {
	case BackendLocal:
	case BackendRemote:
		if c.Model.RemoteAddress == "" {
			fail("model.remote_address is required for the remote backend")
		}
	default:
		fail("unknown model.backend %q", c.Model.Backend)
	}

	if c.Area.Resolution <= 0 {
		fail("area.resolution must be positive")
	}
	if c.Export.Enabled {
		if c.Export.Resolution <= 0 {
			fail("export.resolution must be positive")
		}
		if c.Export.MaxPixels <= 0 {
			fail("export.max_pixels must be positive")
		}
		if c.Export.Destination == "" {
			fail("export.destination is required")
		}
	}

	if c.Processing.Workers < 1 {
		fail("processing.workers must be at least 1")
	}
	if c.Processing.MaxPixels < 0 {
		fail("processing.max_pixels must not be negative")
	}

	switch c.Source.Kind {
	case SourceDirectory, SourceProcessAPI:
	default:
		fail("unknown source.kind %q", c.Source.Kind)
	}
	if c.Source.Root == "" {
		fail("source.root is required")
	}

	switch c.Store.Driver {
	case "":
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			fail("store.dsn is required")
		}
	default:
		fail("unknown store.driver %q", c.Store.Driver)
	}

	return errors.Join(errs...)
}
