package stiffness

import (
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/beso2d/mesh"
)

// System is the global stiffness matrix in coordinate form. The row/column
// pattern is fixed at construction; only the 64 values of a flipped element
// ever change. Reduction to the free DOFs is performed on demand for the
// initial factorization and for full-refactorization checks.
type System struct {
	m        *mesh.Mesh
	template [64]float64 // Ke, row-major
	data     []float64   // 64·N current values
	rows     []int32     // full-size DOF row per entry
	cols     []int32     // full-size DOF column per entry
}

// NewSystem builds the coordinate pattern for all elements of m with the
// given element template. Values start as fully solid.
func NewSystem(m *mesh.Mesh, ke *mat.SymDense) *System {
	s := &System{
		m:    m,
		data: make([]float64, 64*m.N),
		rows: make([]int32, 64*m.N),
		cols: make([]int32, 64*m.N),
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			s.template[8*i+j] = ke.At(i, j)
		}
	}
	for e := 0; e < m.N; e++ {
		nodes := m.ElementNodes(e)
		var dofs [8]int32
		for i, n := range nodes {
			dofs[2*i] = int32(2 * n)
			dofs[2*i+1] = int32(2*n + 1)
		}
		base := 64 * e
		for i := 0; i < 8; i++ {
			for j := 0; j < 8; j++ {
				s.rows[base+8*i+j] = dofs[i]
				s.cols[base+8*i+j] = dofs[j]
			}
		}
	}
	x := make([]bool, m.N)
	for e := range x {
		x[e] = true
	}
	s.Rebuild(x)
	return s
}

// Rebuild writes every element's block from the topology vector.
func (s *System) Rebuild(x []bool) {
	for e := range x {
		s.UpdateElement(e, x[e])
	}
}

// UpdateElement replaces element e's 64 entries with the template scaled by
// the solid or void penalty.
func (s *System) UpdateElement(e int, solid bool) {
	pen := VoidPenalty
	if solid {
		pen = 1.0
	}
	base := 64 * e
	for k := 0; k < 64; k++ {
		s.data[base+k] = pen * s.template[k]
	}
}

// ReducedSym assembles the free-DOF symmetric matrix by summing duplicate
// coordinate entries. This is the matrix the factorization consumes.
func (s *System) ReducedSym() *mat.SymDense {
	n := s.m.NumFree
	acc := make([]float64, n*n)
	for k, v := range s.data {
		r := s.m.ReducedIndex(int(s.rows[k]))
		if r < 0 {
			continue
		}
		c := s.m.ReducedIndex(int(s.cols[k]))
		if c < 0 {
			continue
		}
		acc[r*n+c] += v
	}
	return mat.NewSymDense(n, acc)
}
