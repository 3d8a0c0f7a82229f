package model

import (
	"math/rand"
	"sort"
)

// leafFeature marks a node as a leaf.
const leafFeature = -1

// node is one vertex of a regression tree. Samples with x[Feature] <=
// Threshold go Left.
type node struct {
	Feature   int32
	Threshold float64
	Left      int32
	Right     int32
	Value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.nodes[i]
		if n.Feature == leafFeature {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// booster fits an ensemble of regression trees on squared loss.
type booster struct {
	params Hyperparameters
	x      [][]float64
	y      []float64

	// order[f] lists all sample indices sorted by feature f
	order [][]int
	// scratch membership flags reused across splits
	inLeft []bool
	rng    *rand.Rand
}

func newBooster(params Hyperparameters, x [][]float64, y []float64) *booster {
	b := &booster{
		params: params,
		x:      x,
		y:      y,
		inLeft: make([]bool, len(y)),
		rng:    rand.New(rand.NewSource(params.Seed)),
	}

	nFeatures := 0
	if len(x) > 0 {
		nFeatures = len(x[0])
	}
	b.order = make([][]int, nFeatures)
	for f := 0; f < nFeatures; f++ {
		idx := make([]int, len(y))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, c int) bool { return x[idx[a]][f] < x[idx[c]][f] })
		b.order[f] = idx
	}
	return b
}

// sample returns, per feature, the sorted indices drawn for the next tree.
func (b *booster) sample() [][]int {
	if b.params.Subsample >= 1 {
		out := make([][]int, len(b.order))
		for f := range b.order {
			out[f] = append([]int(nil), b.order[f]...)
		}
		return out
	}

	keep := make([]bool, len(b.y))
	kept := 0
	for i := range keep {
		if b.rng.Float64() < b.params.Subsample {
			keep[i] = true
			kept++
		}
	}
	if kept == 0 {
		keep[b.rng.Intn(len(keep))] = true
	}

	out := make([][]int, len(b.order))
	for f, idx := range b.order {
		sel := make([]int, 0, kept)
		for _, i := range idx {
			if keep[i] {
				sel = append(sel, i)
			}
		}
		out[f] = sel
	}
	return out
}

// fitTree grows one tree against the current residuals.
func (b *booster) fitTree(residual []float64) tree {
	t := tree{}
	sorted := b.sample()
	b.grow(&t, sorted, residual, 0)
	return t
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (b *booster) grow(t *tree, sorted [][]int, residual []float64, depth int) int32 {
	var members []int
	if len(sorted) > 0 {
		members = sorted[0]
	}

	var sum float64
	for _, i := range members {
		sum += residual[i]
	}
	n := float64(len(members))

	self := int32(len(t.nodes))
	leafValue := 0.0
	if n > 0 {
		leafValue = sum / n
	}
	t.nodes = append(t.nodes, node{Feature: leafFeature, Value: leafValue})

	if depth >= b.params.MaxDepth || len(members) < 2*b.params.MinSamplesLeaf {
		return self
	}

	best, ok := b.bestSplit(sorted, residual, sum)
	if !ok {
		return self
	}

	for _, i := range members {
		b.inLeft[i] = b.x[i][best.feature] <= best.threshold
	}
	left := make([][]int, len(sorted))
	right := make([][]int, len(sorted))
	for f, idx := range sorted {
		l := make([]int, 0, len(idx))
		r := make([]int, 0, len(idx))
		for _, i := range idx {
			if b.inLeft[i] {
				l = append(l, i)
			} else {
				r = append(r, i)
			}
		}
		left[f], right[f] = l, r
	}

	leftID := b.grow(t, left, residual, depth+1)
	rightID := b.grow(t, right, residual, depth+1)

	t.nodes[self] = node{
		Feature:   int32(best.feature),
		Threshold: best.threshold,
		Left:      leftID,
		Right:     rightID,
		Value:     leafValue,
	}
	return self
}

// bestSplit scans every feature in sorted order and returns the threshold
// with the largest reduction in squared error. Ties keep the first found,
// which makes the fit deterministic.
func (b *booster) bestSplit(sorted [][]int, residual []float64, total float64) (split, bool) {
	minLeaf := b.params.MinSamplesLeaf
	best := split{gain: 1e-12}
	found := false

	for f, idx := range sorted {
		n := len(idx)
		parent := total * total / float64(n)

		var leftSum float64
		for k := 0; k < n-1; k++ {
			i := idx[k]
			leftSum += residual[i]

			nLeft := k + 1
			nRight := n - nLeft
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}

			cur, next := b.x[i][f], b.x[idx[k+1]][f]
			if cur == next {
				continue
			}

			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nLeft) + rightSum*rightSum/float64(nRight) - parent
			if gain > best.gain {
				threshold := cur + (next-cur)/2
				if threshold >= next {
					threshold = cur
				}
				best = split{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}
