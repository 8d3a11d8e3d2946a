// Package iforest implements the Isolation Forest algorithm for anomaly detection.
// It is the partition-based point detector: samples that random splits
// isolate in few steps are flagged as low-density outliers.
package iforest

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hed1ad/liftguard/pkg/detectors"
	"github.com/hed1ad/liftguard/pkg/stats"
)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	threshold     float64
	maxDepth      int
	rng           *rand.Rand

	// Trained model
	trees   []*iTree
	trained bool

	// Statistics from training
	avgPathLength float64
}

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree.
type node struct {
	splitFeature int
	splitValue   float64

	left  *node
	right *node

	// size is the number of training samples that reached a leaf.
	size int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	cfg := detectors.DefaultConfig()
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: cfg.Contamination,
		threshold:     0.5,
		rng:           rand.New(rand.NewSource(cfg.RandomSeed)),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.maxDepth = depthLimit(f.sampleSize)

	return f
}

// Factory returns a detectors.Factory building forests with opts.
func Factory(opts ...Option) detectors.Factory {
	return func() detectors.Flagger {
		return New(opts...)
	}
}

func depthLimit(sampleSize int) int {
	return int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))
}

// Fit trains the Isolation Forest on the provided data.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	nFeatures, err := detectors.Validate(data)
	if err != nil {
		return err
	}
	nSamples := len(data)

	// Adjust sample size if needed
	sampleSize := min(f.sampleSize, nSamples)
	f.maxDepth = depthLimit(sampleSize)

	// Build trees
	f.trees = make([]*iTree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		f.trees[i] = &iTree{root: f.buildNode(sample, nFeatures, 0)}
	}

	// Calculate average path length for normalization
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	// Set threshold so that roughly the contamination share of the
	// training data scores above it.
	if f.contamination > 0 {
		scores := f.predict(data)
		f.threshold = stats.Percentile(scores, 100*(1-f.contamination))
	}

	return nil
}

func (f *IsolationForest) buildNode(data [][]float64, nFeatures, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= f.maxDepth || n <= 1 {
		return &node{size: n}
	}

	// Random feature and split value
	feature := f.rng.Intn(nFeatures)

	// Find min/max for this feature
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return &node{size: n}
	}

	// Random split value
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         f.buildNode(leftData, nFeatures, depth+1),
		right:        f.buildNode(rightData, nFeatures, depth+1),
	}
}

// Predict returns anomaly scores in (0, 1] for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	return f.predict(data), nil
}

func (f *IsolationForest) predict(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.predictOne(sample)
	}
	return scores
}

func (f *IsolationForest) predictOne(sample []float64) float64 {
	// Average path length across all trees
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	if f.avgPathLength == 0 {
		return 0.5
	}

	// Anomaly score: 2^(-avgPath / c(n))
	// Higher score = more anomalous
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// Flag marks samples scoring strictly above the contamination threshold.
func (f *IsolationForest) Flag(data [][]float64) ([]bool, error) {
	scores, err := f.Predict(data)
	if err != nil {
		return nil, err
	}
	threshold := f.Threshold()

	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s > threshold
	}
	return flags, nil
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.left == nil && n.right == nil {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.size))
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(i) ≈ ln(i) + Euler-Mascheroni constant
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}
