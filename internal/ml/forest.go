package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/utils"
	"github.com/gammazero/workerpool"
)

// ForestParams configures Random Forest training. MaxDepth 0 means unlimited.
type ForestParams struct {
	Trees    int   `json:"trees"`
	MaxDepth int   `json:"max_depth"`
	MinLeaf  int   `json:"min_leaf"`
	Seed     int64 `json:"seed"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{Trees: 50, MinLeaf: 1, Seed: 42}
}

func (p ForestParams) Validate() error {
	if p.Trees < 1 {
		return fmt.Errorf("%w: forest needs at least one tree, got %d", raster.ErrInvalidInput, p.Trees)
	}
	if p.MinLeaf < 1 {
		return fmt.Errorf("%w: min leaf size %d", raster.ErrInvalidInput, p.MinLeaf)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("%w: max depth %d", raster.ErrInvalidInput, p.MaxDepth)
	}
	return nil
}

// Node is a flattened decision tree node. Leaves have Feature -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Class     int     `json:"c"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(x []float64) int {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Class
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a trained, immutable Random Forest.
type Forest struct {
	trees       []Tree
	numClasses  int
	numFeatures int
	params      ForestParams
}

type TrainOptions struct {
	Workers      int
	ShowProgress bool
}

// TrainForest grows params.Trees trees on bootstrap resamples of (x, y). Tree i
// draws from a generator seeded with params.Seed+i, so the result does not
// depend on scheduling.
func TrainForest(ctx context.Context, x [][]float64, y []int, params ForestParams, opts TrainOptions) (*Forest, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no training samples", raster.ErrInvalidInput)
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d feature rows for %d labels", raster.ErrInvalidInput, len(x), len(y))
	}

	numFeatures := len(x[0])
	numClasses := 0
	for i, row := range x {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d", raster.ErrInvalidInput, i, len(row), numFeatures)
		}
		if y[i] < 0 {
			return nil, fmt.Errorf("%w: negative label %d", raster.ErrInvalidInput, y[i])
		}
		numClasses = max(numClasses, y[i]+1)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	var (
		trees       = make([]Tree, params.Trees)
		wp          = workerpool.New(workers)
		progressBar = utils.NewProgressBar(params.Trees, "Training forest", opts.ShowProgress)
		errChan     = make(chan error, 1)
		stop        sync.Once
	)

	for i := 0; i < params.Trees; i++ {
		idx := i
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				stop.Do(func() { errChan <- err })
				return
			}
			b := &builder{
				x:          x,
				y:          y,
				numClasses: numClasses,
				mtry:       max(1, int(math.Floor(math.Sqrt(float64(numFeatures))))),
				params:     params,
				rng:        rand.New(rand.NewSource(params.Seed + int64(idx))),
			}
			trees[idx] = b.grow()
			_ = progressBar.Add(1)
		})
	}
	wp.StopWait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	return &Forest{trees: trees, numClasses: numClasses, numFeatures: numFeatures, params: params}, nil
}

func (f *Forest) NumClasses() int {
	return f.numClasses
}

func (f *Forest) NumFeatures() int {
	return f.numFeatures
}

func (f *Forest) Params() ForestParams {
	return f.params
}

// Predict returns the majority vote of the trees. Ties go to the lowest class.
func (f *Forest) Predict(x []float64) int {
	votes := make([]int, f.numClasses)
	return f.vote(x, votes)
}

func (f *Forest) vote(x []float64, votes []int) int {
	for i := range votes {
		votes[i] = 0
	}
	for _, t := range f.trees {
		votes[t.predict(x)]++
	}
	return argmax(votes)
}

func (f *Forest) PredictBatch(ctx context.Context, rows [][]float64) ([]int, error) {
	out := make([]int, len(rows))
	votes := make([]int, f.numClasses)
	for i, row := range rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(row) != f.numFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d", raster.ErrInvalidInput, i, len(row), f.numFeatures)
		}
		out[i] = f.vote(row, votes)
	}
	return out, nil
}

func argmax(counts []int) int {
	best := 0
	for c := 1; c < len(counts); c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

type builder struct {
	x          [][]float64
	y          []int
	numClasses int
	mtry       int
	params     ForestParams
	rng        *rand.Rand
	nodes      []Node
}

func (b *builder) grow() Tree {
	n := len(b.x)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = b.rng.Intn(n)
	}
	b.nodes = b.nodes[:0]
	b.split(sample, 0)
	return Tree{Nodes: b.nodes}
}

// split appends the subtree for idx and returns its node index.
func (b *builder) split(idx []int, depth int) int {
	counts := make([]int, b.numClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	majority := argmax(counts)

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Class: majority})

	if counts[majority] == len(idx) ||
		len(idx) < 2*b.params.MinLeaf ||
		(b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		return self
	}

	l := b.split(left, depth+1)
	r := b.split(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Class: majority}
	return self
}

// bestSplit searches mtry random features for the midpoint threshold with the
// lowest weighted Gini impurity. When none of them improves on the parent the
// remaining features are tried as well; it reports false only when no feature
// does.
func (b *builder) bestSplit(idx []int, counts []int) (int, float64, bool) {
	n := len(idx)
	parent := gini(counts, n)
	bestScore := parent
	bestFeature, bestThreshold := -1, 0.0

	features := b.rng.Perm(len(b.x[0]))
	sorted := make([]int, n)
	left := make([]int, b.numClasses)
	right := make([]int, b.numClasses)

	for k, f := range features {
		if k >= b.mtry && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})
		for c := range left {
			left[c] = 0
		}
		copy(right, counts)

		for i := 0; i < n-1; i++ {
			c := b.y[sorted[i]]
			left[c]++
			right[c]--

			nl, nr := i+1, n-i-1
			v, next := b.x[sorted[i]][f], b.x[sorted[i+1]][f]
			if v == next || nl < b.params.MinLeaf || nr < b.params.MinLeaf {
				continue
			}
			score := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = v + (next-v)/2
				if bestThreshold >= next {
					bestThreshold = v
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}
