package delivery

import (
	"fmt"
	"strings"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

const (
	StageAOI       = "aoi"
	StageFetch     = "fetch"
	StageMask      = "mask"
	StageComposite = "composite"
	StageIndices   = "indices"
	StageSample    = "sample"
	StageTrain     = "train"
	StageClassify  = "classify"
	StageAssess    = "assess"
	StageArea      = "area"
	StageExport    = "export"
)

// StageError reports which pipeline stage failed and on what input.
type StageError struct {
	Stage     string
	AOI       string
	Epoch     string
	DateRange raster.DateRange
	Err       error
}

func (e *StageError) Error() string {
	parts := []string{"aoi " + e.AOI}
	if e.Epoch != "" {
		parts = append(parts, "epoch "+e.Epoch)
	}
	if !e.DateRange.Start.IsZero() {
		parts = append(parts, e.DateRange.String())
	}
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, strings.Join(parts, ", "), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
