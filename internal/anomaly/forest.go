// Package anomaly implements unsupervised transaction anomaly detection: a
// native isolation forest with standard feature scaling, an atomically
// swappable model snapshot for lock-free concurrent scoring, and batch
// training from historical transactions.
//
// Raw scores follow the usual isolation-forest convention: lower is more
// anomalous. An untrained model scores every vector as 0 — it still answers,
// but does not discriminate until the first training run completes.
package anomaly

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Forest hyperparameters.
const (
	DefaultTrees         = 100
	DefaultSubsample     = 256
	DefaultContamination = 0.01

	// forestSeed keeps training deterministic so retrains on identical data
	// produce identical models.
	forestSeed = 1
)

// ErrDimensionMismatch is returned when a vector's length doesn't match the
// dimensionality the forest was fitted with.
var ErrDimensionMismatch = errors.New("anomaly: feature vector dimension mismatch")

// Node is one split (or leaf) in an isolation tree. Leaves have no children
// and carry the count of training samples that reached them.
type Node struct {
	Feature int     `json:"f,omitempty"`
	Split   float64 `json:"s,omitempty"`
	Left    *Node   `json:"l,omitempty"`
	Right   *Node   `json:"r,omitempty"`
	Size    int     `json:"n,omitempty"`
}

func (n *Node) leaf() bool { return n.Left == nil && n.Right == nil }

// Forest is an ensemble of randomized isolation trees. Exported fields make
// the fitted model JSON-serializable for persistence.
type Forest struct {
	Trees         []*Node `json:"trees"`
	Dim           int     `json:"dim"`
	Subsample     int     `json:"subsample"`
	Contamination float64 `json:"contamination"`

	// Offset calibrates raw scores so that roughly the contamination
	// fraction of the training data scores below zero.
	Offset float64 `json:"offset"`
}

// NewForest creates an unfitted forest with default hyperparameters.
func NewForest() *Forest {
	return &Forest{
		Subsample:     DefaultSubsample,
		Contamination: DefaultContamination,
	}
}

// Fitted reports whether the forest has been trained.
func (f *Forest) Fitted() bool { return len(f.Trees) > 0 }

// Fit trains the ensemble on the given samples, replacing any previous fit
// (warm retraining is a wholesale refit). Samples must all share one
// dimension and there must be at least two of them.
func (f *Forest) Fit(samples [][]float64) error {
	if len(samples) < 2 {
		return errors.New("anomaly: need at least 2 samples to fit")
	}
	dim := len(samples[0])
	for _, s := range samples {
		if len(s) != dim {
			return ErrDimensionMismatch
		}
	}

	rng := rand.New(rand.NewSource(forestSeed))
	psi := f.Subsample
	if psi > len(samples) {
		psi = len(samples)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi)))) + 1

	trees := make([]*Node, DefaultTrees)
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	for t := range trees {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		sub := make([][]float64, psi)
		for i := 0; i < psi; i++ {
			sub[i] = samples[idx[i]]
		}
		trees[t] = buildTree(sub, 0, maxDepth, rng)
	}

	f.Trees = trees
	f.Dim = dim
	f.Offset = 0

	// Calibrate the decision offset: the contamination quantile of the
	// uncalibrated training scores becomes the zero line.
	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i], _ = f.decision(s)
	}
	sort.Float64s(scores)
	q := int(f.Contamination * float64(len(scores)))
	if q >= len(scores) {
		q = len(scores) - 1
	}
	f.Offset = scores[q]

	return nil
}

// RawScore returns the calibrated anomaly score for v: lower means more
// anomalous, with roughly the contamination fraction of training data below
// zero. An unfitted forest scores everything as 0.
func (f *Forest) RawScore(v []float64) (float64, error) {
	if !f.Fitted() {
		return 0, nil
	}
	d, err := f.decision(v)
	if err != nil {
		return 0, err
	}
	return d - f.Offset, nil
}

// decision is the uncalibrated score: -s(x) where s is the standard
// isolation-forest anomaly score in (0, 1].
func (f *Forest) decision(v []float64) (float64, error) {
	if len(v) != f.Dim {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for _, root := range f.Trees {
		sum += pathLength(root, v, 0)
	}
	avgPath := sum / float64(len(f.Trees))
	s := math.Exp2(-avgPath / avgPathLength(f.Subsample))
	return -s, nil
}

func buildTree(samples [][]float64, depth, maxDepth int, rng *rand.Rand) *Node {
	if depth >= maxDepth || len(samples) <= 1 {
		return &Node{Size: len(samples)}
	}

	// Pick a feature with spread; give up after a few tries (constant data).
	dim := len(samples[0])
	var feat int
	var lo, hi float64
	found := false
	for try := 0; try < dim; try++ {
		feat = rng.Intn(dim)
		lo, hi = samples[0][feat], samples[0][feat]
		for _, s := range samples {
			if s[feat] < lo {
				lo = s[feat]
			}
			if s[feat] > hi {
				hi = s[feat]
			}
		}
		if hi > lo {
			found = true
			break
		}
	}
	if !found {
		return &Node{Size: len(samples)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, s := range samples {
		if s[feat] < split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Size: len(samples)}
	}

	return &Node{
		Feature: feat,
		Split:   split,
		Left:    buildTree(left, depth+1, maxDepth, rng),
		Right:   buildTree(right, depth+1, maxDepth, rng),
	}
}

// pathLength walks v down the tree; leaves contribute the expected remaining
// depth for the samples they hold.
func pathLength(n *Node, v []float64, depth int) float64 {
	if n.leaf() {
		return float64(depth) + avgPathLength(n.Size)
	}
	if v[n.Feature] < n.Split {
		return pathLength(n.Left, v, depth+1)
	}
	return pathLength(n.Right, v, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n items.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		nf := float64(n)
		return 2*(math.Log(nf-1)+0.5772156649) - 2*(nf-1)/nf
	}
}
