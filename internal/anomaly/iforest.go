package anomaly

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
)

const eulerGamma = 0.5772156649

// IsolationForest flags sites whose five raw signals are easy to isolate
// with random axis-aligned splits.
type IsolationForest struct {
	numTrees     int
	samplingSize int
	threshold    float64
	seed         int64
}

type iTreeNode struct {
	feature    int
	split      float64
	left       *iTreeNode
	right      *iTreeNode
	external   bool
	adjustment float64
}

// NewIsolationForest builds a detector from config, filling in defaults of
// 100 trees, 256 samples and a 0.6 score threshold.
func NewIsolationForest(cfg domain.AnomalyConfig) *IsolationForest {
	f := &IsolationForest{
		numTrees:     cfg.NumTrees,
		samplingSize: cfg.SamplingSize,
		threshold:    cfg.Threshold,
		seed:         cfg.Seed,
	}
	if f.numTrees <= 0 {
		f.numTrees = 100
	}
	if f.samplingSize <= 0 {
		f.samplingSize = 256
	}
	if f.threshold <= 0 || f.threshold >= 1 {
		f.threshold = 0.6
	}
	if f.seed == 0 {
		f.seed = time.Now().UnixNano()
	}
	return f
}

// Name returns "iforest".
func (f *IsolationForest) Name() string { return MethodIForest }

// Detect fits a fresh forest on the batch and scores every site in it.
// Each run reseeds from the configured seed, so equal input gives equal output.
func (f *IsolationForest) Detect(ctx context.Context, sites []domain.DQIRecord) ([]domain.AnomalyResult, error) {
	results := make([]domain.AnomalyResult, len(sites))
	if len(sites) < 2 {
		for i, rec := range sites {
			results[i] = resultFor(rec, 0, false)
		}
		return results, ctx.Err()
	}

	data := make([][]float64, len(sites))
	for i, rec := range sites {
		data[i] = features(rec)
	}

	rng := rand.New(rand.NewSource(f.seed))
	sampleSize := min(f.samplingSize, len(data))
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	trees := make([]*iTreeNode, 0, f.numTrees)
	for range f.numTrees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := make([][]float64, sampleSize)
		for j, idx := range rng.Perm(len(data))[:sampleSize] {
			sample[j] = data[idx]
		}
		trees = append(trees, buildTree(rng, sample, 0, maxDepth))
	}

	norm := averagePathLength(float64(sampleSize))
	for i, point := range data {
		var total float64
		for _, tree := range trees {
			total += pathLength(point, tree, 0)
		}
		score := math.Pow(2, -(total/float64(len(trees)))/norm)
		results[i] = resultFor(sites[i], math.Round(score*1e4)/1e4, score >= f.threshold)
	}
	return results, nil
}

// features are the five raw signal percentages; NaN counts as zero.
func features(rec domain.DQIRecord) []float64 {
	out := make([]float64, domain.NumSignals)
	for _, s := range domain.Signals {
		v := rec.Signals[s]
		if math.IsNaN(v) {
			v = 0
		}
		out[s] = v
	}
	return out
}

func buildTree(rng *rand.Rand, data [][]float64, depth, maxDepth int) *iTreeNode {
	if len(data) <= 1 || depth >= maxDepth {
		return leaf(len(data))
	}

	// Split only on features that still vary in this subset.
	var varying []int
	var lows, highs []float64
	for f := range len(data[0]) {
		lo, hi := data[0][f], data[0][f]
		for _, d := range data {
			lo = math.Min(lo, d[f])
			hi = math.Max(hi, d[f])
		}
		if lo < hi {
			varying = append(varying, f)
			lows = append(lows, lo)
			highs = append(highs, hi)
		}
	}
	if len(varying) == 0 {
		return leaf(len(data))
	}

	pick := rng.Intn(len(varying))
	feature, lo, hi := varying[pick], lows[pick], highs[pick]
	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, d := range data {
		if d[feature] < split {
			left = append(left, d)
		} else {
			right = append(right, d)
		}
	}

	return &iTreeNode{
		feature: feature,
		split:   split,
		left:    buildTree(rng, left, depth+1, maxDepth),
		right:   buildTree(rng, right, depth+1, maxDepth),
	}
}

func leaf(size int) *iTreeNode {
	return &iTreeNode{external: true, adjustment: averagePathLength(float64(size))}
}

func pathLength(point []float64, node *iTreeNode, depth int) float64 {
	for !node.external {
		if point[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + node.adjustment
}

// averagePathLength is the expected path length of an unsuccessful BST
// search over n points.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}
