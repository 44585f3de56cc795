package detect

import (
	"math"
	"math/rand"
)

// isolationForest is an ensemble of randomized isolation trees.
// Observations that isolate in few random splits are outliers. The
// forest is fit with a fixed seed so identical inputs always produce
// identical scores.
type isolationForest struct {
	trees     []*isoNode
	subsample int
}

type isoNode struct {
	left, right *isoNode
	splitCol    int
	splitVal    float64
	size        int // leaf only
}

const isoSubsample = 256

// fitIsolationForest builds nTrees trees over random subsamples of
// rows.
func fitIsolationForest(rows [][]float64, nTrees int, seed int64) *isolationForest {
	if len(rows) == 0 || nTrees <= 0 {
		return &isolationForest{}
	}
	rng := rand.New(rand.NewSource(seed))

	sub := isoSubsample
	if sub > len(rows) {
		sub = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sub)))) + 1

	f := &isolationForest{subsample: sub}
	for t := 0; t < nTrees; t++ {
		idx := rng.Perm(len(rows))[:sub]
		sample := make([][]float64, sub)
		for i, j := range idx {
			sample[i] = rows[j]
		}
		f.trees = append(f.trees, buildIsoTree(sample, 0, maxDepth, rng))
	}
	return f
}

func buildIsoTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(rows) <= 1 || depth >= maxDepth {
		return &isoNode{size: len(rows)}
	}

	cols := len(rows[0])
	// Pick a random column with spread; give up after a few tries if
	// every candidate is constant.
	col, lo, hi := -1, 0.0, 0.0
	for try := 0; try < cols; try++ {
		c := rng.Intn(cols)
		cLo, cHi := rows[0][c], rows[0][c]
		for _, row := range rows {
			if row[c] < cLo {
				cLo = row[c]
			}
			if row[c] > cHi {
				cHi = row[c]
			}
		}
		if cHi > cLo {
			col, lo, hi = c, cLo, cHi
			break
		}
	}
	if col < 0 {
		return &isoNode{size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range rows {
		if row[col] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(rows)}
	}

	return &isoNode{
		splitCol: col,
		splitVal: split,
		left:     buildIsoTree(left, depth+1, maxDepth, rng),
		right:    buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

// pathLength walks one tree, adding the average-path correction at
// non-singleton leaves.
func (n *isoNode) pathLength(row []float64, depth float64) float64 {
	if n.left == nil {
		return depth + avgPathLength(n.size)
	}
	if row[n.splitCol] < n.splitVal {
		return n.left.pathLength(row, depth+1)
	}
	return n.right.pathLength(row, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful BST
// search over n items, the standard normalizer for isolation forests.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // Euler-Mascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

// score returns the anomaly score in (0, 1); higher isolates faster
// and is therefore more anomalous.
func (f *isolationForest) score(row []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, tree := range f.trees {
		sum += tree.pathLength(row, 0)
	}
	avg := sum / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.subsample))
}
