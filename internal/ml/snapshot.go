package ml

import (
	"fmt"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

// ForestSnapshot is the serialisable form of a Forest.
type ForestSnapshot struct {
	Trees       []Tree       `json:"trees"`
	NumClasses  int          `json:"num_classes"`
	NumFeatures int          `json:"num_features"`
	Params      ForestParams `json:"params"`
}

func (f *Forest) Snapshot() ForestSnapshot {
	trees := make([]Tree, len(f.trees))
	copy(trees, f.trees)
	return ForestSnapshot{
		Trees:       trees,
		NumClasses:  f.numClasses,
		NumFeatures: f.numFeatures,
		Params:      f.params,
	}
}

// NewForestFromSnapshot rebuilds a forest, checking that every node refers to
// existing children, features and classes.
func NewForestFromSnapshot(s ForestSnapshot) (*Forest, error) {
	if len(s.Trees) == 0 || s.NumClasses < 1 || s.NumFeatures < 1 {
		return nil, fmt.Errorf("%w: empty forest snapshot", raster.ErrInvalidInput)
	}
	for ti, t := range s.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: tree %d has no nodes", raster.ErrInvalidInput, ti)
		}
		for ni, n := range t.Nodes {
			if n.Class < 0 || n.Class >= s.NumClasses {
				return nil, fmt.Errorf("%w: tree %d node %d class %d", raster.ErrInvalidInput, ti, ni, n.Class)
			}
			if n.Feature < 0 {
				continue
			}
			if n.Feature >= s.NumFeatures ||
				n.Left <= ni || n.Left >= len(t.Nodes) ||
				n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, fmt.Errorf("%w: tree %d node %d is malformed", raster.ErrInvalidInput, ti, ni)
			}
		}
	}
	trees := make([]Tree, len(s.Trees))
	copy(trees, s.Trees)
	return &Forest{trees: trees, numClasses: s.NumClasses, numFeatures: s.NumFeatures, params: s.Params}, nil
}
