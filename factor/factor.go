// Package factor owns the symmetric positive-definite factorization of the
// reduced stiffness system. One full numeric factorization happens at
// instance setup; every topology flip afterwards reaches the factor as a
// rank-k correction, which must stay numerically equivalent to a full
// refactorization of the mutated matrix.
//
// The backend is gonum's dense Cholesky in natural ordering. Analyze fixes
// the system size (the pattern argument of a sparse backend degenerates to
// the dimension), and the fill-reducing permutation degenerates to the
// identity; ApplyPermutation is kept as an explicit primitive so callers are
// written against the permuted-factor contract.
package factor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// State tracks the handle's lifecycle. Operations called out of order are
// programming errors and surface as errors, not corruption.
type State int

const (
	Unanalyzed State = iota
	Analyzed
	Factored
)

func (s State) String() string {
	switch s {
	case Unanalyzed:
		return "unanalyzed"
	case Analyzed:
		return "analyzed"
	case Factored:
		return "factored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FactorizationError reports loss of positive-definiteness. With the void
// penalty strictly positive this should not occur; when it does, the
// instance is unrecoverable and must be aborted before the factor corrupts
// later iterations.
type FactorizationError struct {
	Op string // "factorize" or "update"
}

func (e *FactorizationError) Error() string {
	return fmt.Sprintf("factorization lost positive-definiteness during %s", e.Op)
}

// Handle owns exclusive mutable access to one factorization. It is not safe
// for concurrent use; each problem instance owns exactly one Handle.
type Handle struct {
	n     int
	state State

	chol       mat.Cholesky
	col        *mat.VecDense // scratch for one scattered update column
	lower      *mat.TriDense // cached L, rebuilt lazily after mutations
	lowerStale bool
}

// NewHandle returns an unanalyzed handle.
func NewHandle() *Handle { return &Handle{state: Unanalyzed} }

// State returns the handle's lifecycle state.
func (h *Handle) State() State { return h.state }

// Order returns the analyzed system dimension.
func (h *Handle) Order() int { return h.n }

// Analyze performs the symbolic step for an n×n system. It is valid exactly
// once per handle: the nonzero pattern is invariant for the life of a run.
func (h *Handle) Analyze(n int) error {
	if h.state != Unanalyzed {
		return fmt.Errorf("factor: analyze called in state %v", h.state)
	}
	if n <= 0 {
		return fmt.Errorf("factor: invalid system size %d", n)
	}
	h.n = n
	h.col = mat.NewVecDense(n, nil)
	h.lower = mat.NewTriDense(n, mat.Lower, nil)
	h.state = Analyzed
	return nil
}

// Factorize computes the full numeric factorization of a. Used only at
// instance initialization; later matrix changes go through Update.
func (h *Handle) Factorize(a mat.Symmetric) error {
	if h.state == Unanalyzed {
		return fmt.Errorf("factor: factorize called before analyze")
	}
	if a.SymmetricDim() != h.n {
		return fmt.Errorf("factor: matrix is %d×%d, analyzed for %d", a.SymmetricDim(), a.SymmetricDim(), h.n)
	}
	if ok := h.chol.Factorize(a); !ok {
		return &FactorizationError{Op: "factorize"}
	}
	h.state = Factored
	h.lowerStale = true
	return nil
}

// Update applies the rank-k correction ±He·Heᵀ scattered to the given
// reduced DOF rows: subtract=true downdates (element removal), subtract=false
// updates (element insertion). The result is numerically equivalent to
// refactorizing the corrected matrix.
func (h *Handle) Update(rows []int, he *mat.Dense, subtract bool) error {
	if h.state != Factored {
		return fmt.Errorf("factor: update called in state %v", h.state)
	}
	r, k := he.Dims()
	if r != len(rows) {
		return fmt.Errorf("factor: basis has %d rows, got %d scatter indices", r, len(rows))
	}
	alpha := 1.0
	if subtract {
		alpha = -1.0
	}
	for j := 0; j < k; j++ {
		h.col.Zero()
		for i, d := range rows {
			h.col.SetVec(d, he.At(i, j))
		}
		if ok := h.chol.SymRankOne(&h.chol, alpha, h.col); !ok {
			return &FactorizationError{Op: "update"}
		}
	}
	h.lowerStale = true
	return nil
}

// SolveVec solves the factored system for rhs into dst.
func (h *Handle) SolveVec(dst *mat.VecDense, rhs mat.Vector) error {
	if h.state != Factored {
		return fmt.Errorf("factor: solve called in state %v", h.state)
	}
	if err := h.chol.SolveVecTo(dst, rhs); err != nil {
		return fmt.Errorf("factor: solve: %w", err)
	}
	return nil
}

// ApplyPermutation writes P·src into dst. The dense backend factors in
// natural ordering, so P is the identity.
func (h *Handle) ApplyPermutation(dst, src *mat.Dense) {
	dst.Copy(src)
}

// SolveLower overwrites b with L⁻¹·b, where L·Lᵀ is the factorization of the
// permuted matrix. b must have h.Order() rows.
func (h *Handle) SolveLower(b *mat.Dense) error {
	if h.state != Factored {
		return fmt.Errorf("factor: solveLower called in state %v", h.state)
	}
	if r, _ := b.Dims(); r != h.n {
		return fmt.Errorf("factor: rhs has %d rows, want %d", r, h.n)
	}
	h.refreshLower()
	blas64.Trsm(blas.Left, blas.NoTrans, 1, h.lower.RawTriangular(), b.RawMatrix())
	return nil
}

func (h *Handle) refreshLower() {
	if !h.lowerStale {
		return
	}
	h.chol.LTo(h.lower)
	h.lowerStale = false
}
