package raster

import "errors"

// ErrInvalidInput reports rasters, grids or parameters that cannot be combined
// or processed. Callers add the detail with fmt.Errorf and %w.
var ErrInvalidInput = errors.New("invalid input")
