// Package stiffness assembles and maintains the global stiffness system of a
// Quad4 plane-stress cantilever model. Every element contributes the same
// 8×8 template scaled by a two-valued penalty (1 for solid material,
// VoidPenalty for void), so the sparse pattern is fixed for the life of a
// run and element flips are 64-entry value rewrites.
package stiffness

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// Young and Poisson fix the isotropic plane-stress material.
	Young   = 1.0
	Poisson = 0.3

	// VoidPenalty is the soft-kill stiffness multiplier of void elements.
	// It keeps the reduced system positive-definite while approximating
	// absence of material.
	VoidPenalty = 1e-6

	// small separates genuine eigenvalues from rigid-body noise when
	// factoring the element stiffness variation.
	small = 1e-14
)

// kIndex encodes the symmetry pattern of the Quad4 plane-stress stiffness
// matrix: entry (i,j) of the template is coefficient kIndex[i][j] of the
// closed-form 8-coefficient vector.
var kIndex = [8][8]int{
	{0, 1, 2, 3, 4, 5, 6, 7},
	{1, 0, 7, 6, 5, 4, 3, 2},
	{2, 7, 0, 5, 6, 3, 4, 1},
	{3, 6, 5, 0, 7, 2, 1, 4},
	{4, 5, 6, 7, 0, 1, 2, 3},
	{5, 4, 3, 2, 1, 0, 7, 6},
	{6, 3, 4, 1, 2, 7, 0, 5},
	{7, 2, 1, 4, 3, 6, 5, 0},
}

// ElementTemplate returns the 8×8 Quad4 plane-stress stiffness template for
// Young's modulus ey and Poisson ratio nu. Local DOF order follows the node
// numbering of mesh.ElementNodes (x then y per node).
func ElementTemplate(ey, nu float64) *mat.SymDense {
	c := ey / (1 - nu*nu)
	kk := [8]float64{
		c * (0.5 - nu/6),
		c * (0.125 + nu/8),
		c * (-0.25 - nu/12),
		c * (-0.125 + 3*nu/8),
		c * (-0.25 + nu/12),
		c * (-0.125 - nu/8),
		c * (nu / 6),
		c * (0.125 - 3*nu/8),
	}
	ke := mat.NewSymDense(8, nil)
	for i := 0; i < 8; i++ {
		for j := i; j < 8; j++ {
			ke.SetSym(i, j, kk[kIndex[i][j]])
		}
	}
	return ke
}

// Variation returns dKe = (1-VoidPenalty)·Ke, the stiffness change caused by
// flipping one element between solid and void.
func Variation(ke *mat.SymDense) *mat.SymDense {
	d := mat.NewSymDense(8, nil)
	for i := 0; i < 8; i++ {
		for j := i; j < 8; j++ {
			d.SetSym(i, j, (1-VoidPenalty)*ke.At(i, j))
		}
	}
	return d
}

// Basis identifies which element eigenbasis applies, by how many of the
// element's left-edge nodes fall inside the support band.
type Basis int

const (
	BasisFree       Basis = iota // all four nodes free: full 8×8, rank 5
	BasisLowerFixed              // bottom-left node constrained: 6×6 block, rank 5
	BasisUpperFixed              // top-left node constrained: 6×6 block, rank 5
	BasisBothFixed               // both left-edge nodes constrained: 4×4 block, rank 4
)

// ElementBases holds the fixed factorizations H = V·√D of the element
// stiffness variation and its constrained-adjacent blocks, so that
// dKe = H·Hᵀ on the retained local DOFs. Computed once at setup, never per
// iteration.
type ElementBases struct {
	bases [4]*mat.Dense // indexed by Basis
}

// NewElementBases eigenfactorizes dKe and its three boundary-adjacent
// blocks, keeping only the columns with |λ| above the rigid-body threshold.
func NewElementBases(dKe *mat.SymDense) (*ElementBases, error) {
	blocks := [4][]int{
		{0, 1, 2, 3, 4, 5, 6, 7}, // BasisFree
		{2, 3, 4, 5, 6, 7},       // BasisLowerFixed: local DOFs 0,1 removed
		{0, 1, 2, 3, 4, 5},       // BasisUpperFixed: local DOFs 6,7 removed
		{2, 3, 4, 5},             // BasisBothFixed: local DOFs 0,1,6,7 removed
	}
	eb := &ElementBases{}
	for b, idx := range blocks {
		sub := mat.NewSymDense(len(idx), nil)
		for i, gi := range idx {
			for j := i; j < len(idx); j++ {
				sub.SetSym(i, j, dKe.At(gi, idx[j]))
			}
		}
		h, err := basisOf(sub)
		if err != nil {
			return nil, fmt.Errorf("stiffness: basis %d: %w", b, err)
		}
		eb.bases[b] = h
	}
	return eb, nil
}

// basisOf returns H with H·Hᵀ = a, dropping eigenpairs with |λ| ≤ small.
func basisOf(a *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, fmt.Errorf("eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := a.SymmetricDim()
	var keep []int
	for k, v := range vals {
		if math.Abs(v) > small {
			if v < 0 {
				return nil, fmt.Errorf("negative eigenvalue %v in stiffness variation", v)
			}
			keep = append(keep, k)
		}
	}
	h := mat.NewDense(n, len(keep), nil)
	for j, k := range keep {
		s := math.Sqrt(vals[k])
		for i := 0; i < n; i++ {
			h.Set(i, j, s*vecs.At(i, k))
		}
	}
	return h, nil
}

// For selects the eigenbasis matching an element's free-node flags as
// returned by mesh.FreeElementDOFs. Rows correspond, in order, to the
// element's free local DOFs; columns span the variation's range.
func (eb *ElementBases) For(free [4]bool) (*mat.Dense, Basis) {
	var b Basis
	switch {
	case free[0] && free[3]:
		b = BasisFree
	case !free[0] && free[3]:
		b = BasisLowerFixed
	case free[0] && !free[3]:
		b = BasisUpperFixed
	default:
		b = BasisBothFixed
	}
	return eb.bases[b], b
}

// Rank returns the number of columns of basis b.
func (eb *ElementBases) Rank(b Basis) int {
	_, c := eb.bases[b].Dims()
	return c
}

// MaxRank returns the largest basis rank, the width needed for scratch
// matrices shared across all elements.
func (eb *ElementBases) MaxRank() int {
	max := 0
	for _, h := range eb.bases {
		if _, c := h.Dims(); c > max {
			max = c
		}
	}
	return max
}
