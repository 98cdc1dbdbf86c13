package profiling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"trialsynth/domain/core"
)

// correlationMatrix computes pairwise Pearson correlations between columns.
// A zero-variance column has no defined correlation; it is treated as
// uncorrelated with everything else.
func correlationMatrix(columns [][]float64) *mat.SymDense {
	n := len(columns)
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			r := stat.Correlation(columns[i], columns[j], nil)
			if math.IsNaN(r) || math.IsInf(r, 0) {
				r = 0
			}
			corr.SetSym(i, j, r)
		}
	}
	return corr
}

// minEigenvalue returns the smallest eigenvalue of a symmetric matrix
func minEigenvalue(a *mat.SymDense) (float64, error) {
	var eig mat.EigenSym
	if !eig.Factorize(a, false) {
		return 0, fmt.Errorf("%w: eigen decomposition failed", core.ErrSingularCorrelation)
	}
	vals := eig.Values(nil)
	min := vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
	}
	return min, nil
}

// regularize clips eigenvalues below floor, reconstructs the matrix and
// rescales it back to a unit diagonal.
func regularize(a *mat.SymDense, floor float64) (*mat.SymDense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, fmt.Errorf("%w: eigen decomposition failed", core.ErrSingularCorrelation)
	}
	vals := eig.Values(nil)
	for i, v := range vals {
		if v < floor {
			vals[i] = floor
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var scaled, rebuilt mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(len(vals), vals))
	rebuilt.Mul(&scaled, vecs.T())

	n := len(vals)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			v := (rebuilt.At(i, j) + rebuilt.At(j, i)) / 2
			v /= math.Sqrt(rebuilt.At(i, i) * rebuilt.At(j, j))
			out.SetSym(i, j, v)
		}
	}
	return out, nil
}

// factorize returns the lower Cholesky factor of the correlation matrix,
// regularizing first when the matrix is not safely positive definite.
func factorize(corr *mat.SymDense, floor float64) (*mat.SymDense, *mat.TriDense, bool, error) {
	regularized := false
	min, err := minEigenvalue(corr)
	if err != nil {
		return nil, nil, false, err
	}
	if min < floor {
		corr, err = regularize(corr, floor)
		if err != nil {
			return nil, nil, false, err
		}
		regularized = true
	}

	var chol mat.Cholesky
	if !chol.Factorize(corr) {
		return nil, nil, regularized, fmt.Errorf("%w: cholesky failed after regularization", core.ErrSingularCorrelation)
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	return corr, &lower, regularized, nil
}
