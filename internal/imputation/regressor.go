// Package imputation fills missing vital-sign cells by chained equations and
// pools repeated imputations with Rubin's rules.
package imputation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Regressor predicts one column from the others
type Regressor interface {
	Fit(x [][]float64, y []float64) error
	Predict(x []float64) float64
	// ResidualStd is the in-sample residual standard deviation
	ResidualStd() float64
}

// RegressorFactory builds an unfitted regressor for the column being modelled
type RegressorFactory func(column int) Regressor

// RidgeRegressor is an L2-penalized linear model on standardized predictors
type RidgeRegressor struct {
	Lambda float64

	intercept float64
	coef      []float64
	center    []float64
	scale     []float64
	residual  float64
}

// NewRidge returns a ridge regressor factory with penalty lambda
func NewRidge(lambda float64) RegressorFactory {
	return func(int) Regressor { return &RidgeRegressor{Lambda: lambda} }
}

// Fit solves (XᵀX + λI)β = Xᵀy on centered, scaled predictors
func (r *RidgeRegressor) Fit(x [][]float64, y []float64) error {
	n := len(x)
	if n == 0 || n != len(y) {
		return fmt.Errorf("ridge: %d rows for %d targets", n, len(y))
	}
	p := len(x[0])

	r.center = make([]float64, p)
	r.scale = make([]float64, p)
	for j := 0; j < p; j++ {
		var sum float64
		for i := range x {
			sum += x[i][j]
		}
		r.center[j] = sum / float64(n)
		var ss float64
		for i := range x {
			d := x[i][j] - r.center[j]
			ss += d * d
		}
		r.scale[j] = math.Sqrt(ss / float64(n))
		if r.scale[j] == 0 {
			r.scale[j] = 1
		}
	}
	var yMean float64
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)

	design := mat.NewDense(n, p, nil)
	target := mat.NewVecDense(n, nil)
	for i := range x {
		for j := 0; j < p; j++ {
			design.Set(i, j, (x[i][j]-r.center[j])/r.scale[j])
		}
		target.SetVec(i, y[i]-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, design.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.Lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(design.T(), target)

	var beta mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(&gram) {
		if err := chol.SolveVecTo(&beta, &rhs); err != nil {
			return fmt.Errorf("ridge: %w", err)
		}
	} else if err := beta.SolveVec(&gram, &rhs); err != nil {
		return fmt.Errorf("ridge: %w", err)
	}

	r.coef = make([]float64, p)
	for j := range r.coef {
		r.coef[j] = beta.AtVec(j)
	}
	r.intercept = yMean

	var sse float64
	for i := range x {
		d := y[i] - r.Predict(x[i])
		sse += d * d
	}
	dof := n - p - 1
	if dof < 1 {
		dof = n
	}
	r.residual = math.Sqrt(sse / float64(dof))
	return nil
}

// Predict returns the fitted value for one predictor vector
func (r *RidgeRegressor) Predict(x []float64) float64 {
	out := r.intercept
	for j, b := range r.coef {
		out += b * (x[j] - r.center[j]) / r.scale[j]
	}
	return out
}

func (r *RidgeRegressor) ResidualStd() float64 { return r.residual }

// Coefficients returns the slopes on the original predictor scale
func (r *RidgeRegressor) Coefficients() []float64 {
	out := make([]float64, len(r.coef))
	for j, b := range r.coef {
		out[j] = b / r.scale[j]
	}
	return out
}

// TreeEnsemble is a bagged ensemble of regression trees grown on bootstrap
// resamples. Seed fixes the resamples so fitting is reproducible.
type TreeEnsemble struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64

	roots    []*treeNode
	residual float64
}

// NewTreeEnsemble returns a factory whose per-column seeds differ
func NewTreeEnsemble(trees, maxDepth, minLeaf int, seed int64) RegressorFactory {
	return func(column int) Regressor {
		return &TreeEnsemble{Trees: trees, MaxDepth: maxDepth, MinLeaf: minLeaf, Seed: seed + int64(column)*7919}
	}
}

type treeNode struct {
	feature   int
	threshold float64
	value     float64
	left      *treeNode
	right     *treeNode
}

func (n *treeNode) leaf() bool { return n.left == nil }

func (t *TreeEnsemble) Fit(x [][]float64, y []float64) error {
	n := len(x)
	if n == 0 || n != len(y) {
		return fmt.Errorf("trees: %d rows for %d targets", n, len(y))
	}
	rng := rand.New(rand.NewSource(t.Seed))
	t.roots = make([]*treeNode, t.Trees)
	for k := range t.roots {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		t.roots[k] = t.grow(x, y, sample, 0)
	}

	var sse float64
	for i := range x {
		d := y[i] - t.Predict(x[i])
		sse += d * d
	}
	t.residual = math.Sqrt(sse / float64(n))
	return nil
}

func (t *TreeEnsemble) grow(x [][]float64, y []float64, idx []int, depth int) *treeNode {
	node := &treeNode{value: meanAt(y, idx)}
	if depth >= t.MaxDepth || len(idx) < 2*t.MinLeaf {
		return node
	}

	bestSSE := sseAt(y, idx)
	bestFeature, bestThreshold := -1, 0.0
	p := len(x[idx[0]])
	sorted := make([]int, len(idx))
	for f := 0; f < p; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return x[sorted[a]][f] < x[sorted[b]][f] })

		var total, totalSq float64
		for _, i := range sorted {
			total += y[i]
			totalSq += y[i] * y[i]
		}
		var leftSum, leftSq float64
		for k := 0; k < len(sorted)-1; k++ {
			v := y[sorted[k]]
			leftSum += v
			leftSq += v * v
			nl := float64(k + 1)
			nr := float64(len(sorted) - k - 1)
			if int(nl) < t.MinLeaf || int(nr) < t.MinLeaf {
				continue
			}
			lo, hi := x[sorted[k]][f], x[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			rightSum, rightSq := total-leftSum, totalSq-leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			if sse < bestSSE-1e-12 {
				bestSSE, bestFeature, bestThreshold = sse, f, (lo+hi)/2
			}
		}
	}
	if bestFeature < 0 {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if x[i][bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	node.feature, node.threshold = bestFeature, bestThreshold
	node.left = t.grow(x, y, left, depth+1)
	node.right = t.grow(x, y, right, depth+1)
	return node
}

// Predict averages the trees' leaf values
func (t *TreeEnsemble) Predict(x []float64) float64 {
	if len(t.roots) == 0 {
		return 0
	}
	var sum float64
	for _, node := range t.roots {
		for !node.leaf() {
			if x[node.feature] <= node.threshold {
				node = node.left
			} else {
				node = node.right
			}
		}
		sum += node.value
	}
	return sum / float64(len(t.roots))
}

func (t *TreeEnsemble) ResidualStd() float64 { return t.residual }

func meanAt(y []float64, idx []int) float64 {
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func sseAt(y []float64, idx []int) float64 {
	m := meanAt(y, idx)
	var sse float64
	for _, i := range idx {
		d := y[i] - m
		sse += d * d
	}
	return sse
}
