// Package mesh builds the node/element topology and boundary model for a
// rectangular 2D cantilever beam discretized with Quad4 elements.
//
// The beam has unit height and 2:1 aspect ratio. Nodes are numbered
// column-major from the bottom-left corner:
//
//	2_____5_____8_____11
//	| (1) | (3) | (5) |
//	1_____4_____7_____10
//	| (0) | (2) | (4) |
//	0_____3_____6_____9
//
// The left edge carries the support band, the right edge the load band.
package mesh

import (
	"fmt"
)

const (
	// Ly is the beam height. All band parameters are fractions of Ly.
	Ly = 1.0

	// small absorbs floating-point noise in band membership tests.
	small = 1e-14
)

// Params describes one problem instance. Support and load bands are given by
// center and half-width as fractions of the beam height, measured from
// mid-height.
type Params struct {
	Ny               int     // elements along the height; width is 2·Ny
	SupportCenter    float64 // center of the constrained band on the left edge
	SupportHalfWidth float64 // half-width of the constrained band
	LoadCenter       float64 // center of the loaded band on the right edge
	LoadHalfWidth    float64 // half-width of the loaded band
}

// InsufficientConstraintError reports a support band that intersects fewer
// than two nodal y-positions. The parameters are invalid, not transient; the
// instance cannot run.
type InsufficientConstraintError struct {
	Constrained int // nodes actually covered by the band
}

func (e *InsufficientConstraintError) Error() string {
	return fmt.Sprintf("insufficient constraint: support band covers %d node(s), need at least 2", e.Constrained)
}

// Mesh holds the node coordinates, element incidence and boundary model of
// one instance. Built once by New and read-only thereafter.
type Mesh struct {
	Ny, Nx int // elements along height / width
	N      int // total elements, Nx·Ny
	Nodes  int // total nodes, (Nx+1)·(Ny+1)
	DOFs   int // total degrees of freedom, 2·Nodes

	ESize float64   // element edge length, Ly/Ny
	X, Y  []float64 // node coordinates, length Nodes; y is centered on 0

	// BCLo, BCHi bound the contiguous range of constrained left-edge nodes.
	BCLo, BCHi int

	FreeDOF  []bool // length DOFs, false on constrained DOFs
	NumFree  int    // number of free DOFs
	dofMap   []int  // full DOF -> reduced DOF, -1 when constrained
	freeDOFs []int  // reduced DOF -> full DOF

	Load        []float64 // full-size load vector
	ReducedLoad []float64 // load restricted to free DOFs

	// LoadElems lists the last-column elements adjacent to loaded nodes,
	// in ascending order (contiguous). Empty for a degenerate zero load.
	LoadElems []int
}

// New builds the mesh and boundary model for p. It fails with
// *InsufficientConstraintError when the support band constrains fewer than
// two nodes.
func New(p Params) (*Mesh, error) {
	if p.Ny < 1 {
		return nil, fmt.Errorf("mesh: Ny must be positive, got %d", p.Ny)
	}

	m := &Mesh{
		Ny:    p.Ny,
		Nx:    2 * p.Ny,
		ESize: Ly / float64(p.Ny),
	}
	m.N = m.Nx * m.Ny
	m.Nodes = (m.Nx + 1) * (m.Ny + 1)
	m.DOFs = 2 * m.Nodes

	// Node coordinates, column-major, shifted so the beam is centered on y=0.
	m.X = make([]float64, m.Nodes)
	m.Y = make([]float64, m.Nodes)
	for n := 0; n < m.Nodes; n++ {
		col := n / (m.Ny + 1)
		row := n % (m.Ny + 1)
		m.X[n] = float64(col) * m.ESize
		m.Y[n] = float64(row)*m.ESize - 0.5*Ly
	}

	if err := m.buildSupport(p); err != nil {
		return nil, err
	}
	m.buildLoad(p)
	return m, nil
}

// buildSupport marks the constrained left-edge nodes and derives the reduced
// DOF numbering. The constrained nodes form a contiguous prefix range of the
// left-edge column, so the reduction is a single index shift.
func (m *Mesh) buildSupport(p Params) error {
	lo, hi := -1, -1
	count := 0
	for n := 0; n <= m.Ny; n++ {
		if abs(m.Y[n]-p.SupportCenter*Ly) < p.SupportHalfWidth*Ly+small {
			if lo < 0 {
				lo = n
			}
			hi = n
			count++
		}
	}
	if count < 2 {
		return &InsufficientConstraintError{Constrained: count}
	}
	m.BCLo, m.BCHi = lo, hi

	m.FreeDOF = make([]bool, m.DOFs)
	for d := range m.FreeDOF {
		m.FreeDOF[d] = true
	}
	for n := lo; n <= hi; n++ {
		m.FreeDOF[2*n] = false
		m.FreeDOF[2*n+1] = false
	}

	m.dofMap = make([]int, m.DOFs)
	for d := 0; d < m.DOFs; d++ {
		if m.FreeDOF[d] {
			m.dofMap[d] = len(m.freeDOFs)
			m.freeDOFs = append(m.freeDOFs, d)
		} else {
			m.dofMap[d] = -1
		}
	}
	m.NumFree = len(m.freeDOFs)
	return nil
}

// buildLoad distributes a unit downward line load over the right-edge nodes
// inside the load band by the trapezoidal rule: interior nodes get weight
// -1/(n-1), the band's end nodes half that. A single covered node degenerates
// to a unit point load, zero covered nodes to a zero load.
func (m *Mesh) buildLoad(p Params) {
	m.Load = make([]float64, m.DOFs)

	first := m.Nx * (m.Ny + 1) // first right-edge node
	var ids []int
	mask := make([]bool, m.Ny+1)
	for j := 0; j <= m.Ny; j++ {
		n := first + j
		if abs(m.Y[n]-p.LoadCenter*Ly) < p.LoadHalfWidth*Ly+small {
			mask[j] = true
			ids = append(ids, n)
		}
	}

	switch len(ids) {
	case 0:
	case 1:
		m.Load[2*ids[0]+1] = -1.0
	default:
		w := -1.0 / float64(len(ids)-1)
		for i, n := range ids {
			if i == 0 || i == len(ids)-1 {
				m.Load[2*n+1] = 0.5 * w
			} else {
				m.Load[2*n+1] = w
			}
		}
	}

	// Last-column elements touching a loaded node.
	firstElem := (m.Nx - 1) * m.Ny
	for j := 0; j < m.Ny; j++ {
		if mask[j] || mask[j+1] {
			m.LoadElems = append(m.LoadElems, firstElem+j)
		}
	}

	m.ReducedLoad = make([]float64, m.NumFree)
	for r, d := range m.freeDOFs {
		m.ReducedLoad[r] = m.Load[d]
	}
}

// ElementNodes returns the four nodes of element e in local numbering
//
//	3_____2
//	| (e) |
//	0_____1
func (m *Mesh) ElementNodes(e int) [4]int {
	n0 := e + e/m.Ny
	return [4]int{n0, n0 + m.Ny + 1, n0 + m.Ny + 2, n0 + 1}
}

// FreeElementDOFs returns the reduced DOF indices of element e's
// unconstrained nodes, in local node order, together with a per-node free
// flag. Only the two left-edge nodes (local 0 and 3) can be constrained.
func (m *Mesh) FreeElementDOFs(e int) (gv []int, free [4]bool) {
	nodes := m.ElementNodes(e)
	gv = make([]int, 0, 8)
	for i, n := range nodes {
		free[i] = n < m.BCLo || n > m.BCHi
		if !free[i] {
			continue
		}
		gv = append(gv, m.dofMap[2*n], m.dofMap[2*n+1])
	}
	return gv, free
}

// FreeDOFIndices returns the full-size DOF index for each reduced DOF.
func (m *Mesh) FreeDOFIndices() []int { return m.freeDOFs }

// ReducedIndex maps a full DOF index to its reduced index, -1 if constrained.
func (m *Mesh) ReducedIndex(dof int) int { return m.dofMap[dof] }

// ElementCenter returns the centroid of element e.
func (m *Mesh) ElementCenter(e int) (x, y float64) {
	col := e / m.Ny
	row := e % m.Ny
	return (float64(col) + 0.5) * m.ESize, (float64(row)+0.5)*m.ESize - 0.5*Ly
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
