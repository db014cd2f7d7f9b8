package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullSupport(ny int) Params {
	return Params{
		Ny:               ny,
		SupportCenter:    0.0,
		SupportHalfWidth: 0.5,
		LoadCenter:       0.0,
		LoadHalfWidth:    0.5,
	}
}

func TestNewMeshDimensions(t *testing.T) {
	m, err := New(fullSupport(4))
	require.NoError(t, err)

	assert.Equal(t, 8, m.Nx)
	assert.Equal(t, 32, m.N)
	assert.Equal(t, 45, m.Nodes)
	assert.Equal(t, 90, m.DOFs)
	assert.InDelta(t, 0.25, m.ESize, 1e-15)

	// Column-major numbering, y centered on the beam axis.
	assert.InDelta(t, 0.0, m.X[0], 1e-15)
	assert.InDelta(t, -0.5, m.Y[0], 1e-15)
	assert.InDelta(t, 0.25, m.X[5], 1e-15)
	assert.InDelta(t, -0.5, m.Y[5], 1e-15)
}

func TestElementIncidence(t *testing.T) {
	m, err := New(fullSupport(4))
	require.NoError(t, err)

	assert.Equal(t, [4]int{0, 5, 6, 1}, m.ElementNodes(0))
	assert.Equal(t, [4]int{3, 8, 9, 4}, m.ElementNodes(3))
	// First element of the second column skips the shared edge node.
	assert.Equal(t, [4]int{5, 10, 11, 6}, m.ElementNodes(4))
}

func TestFullSupportReduction(t *testing.T) {
	m, err := New(fullSupport(4))
	require.NoError(t, err)

	assert.Equal(t, 0, m.BCLo)
	assert.Equal(t, 4, m.BCHi)
	assert.Equal(t, 80, m.NumFree)

	// Element 0 has both left-edge nodes constrained; its free DOFs are
	// those of nodes 5 and 6, the first two free nodes.
	gv, free := m.FreeElementDOFs(0)
	assert.Equal(t, [4]bool{false, true, true, false}, free)
	assert.Equal(t, []int{0, 1, 2, 3}, gv)

	// An interior element is fully free.
	gv, free = m.FreeElementDOFs(9)
	assert.Equal(t, [4]bool{true, true, true, true}, free)
	assert.Len(t, gv, 8)
}

func TestPartialSupport(t *testing.T) {
	// Band centered on the bottom corner, radius just over one element.
	m, err := New(Params{Ny: 4, SupportCenter: -0.5, SupportHalfWidth: 0.26, LoadCenter: 0, LoadHalfWidth: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0, m.BCLo)
	assert.Equal(t, 1, m.BCHi)
	assert.Equal(t, 90-4, m.NumFree)

	// Node indices above the band shift down by the constrained count.
	gv, free := m.FreeElementDOFs(1)
	assert.Equal(t, [4]bool{false, true, true, true}, free)
	// Nodes 6, 7, 2 -> reduced nodes 4, 5, 0.
	assert.Equal(t, []int{8, 9, 10, 11, 0, 1}, gv)
}

func TestInsufficientConstraint(t *testing.T) {
	_, err := New(Params{Ny: 4, SupportCenter: 0.1, SupportHalfWidth: 0.01, LoadCenter: 0, LoadHalfWidth: 0.5})
	var ice *InsufficientConstraintError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 0, ice.Constrained)

	_, err = New(Params{Ny: 4, SupportCenter: 0.0, SupportHalfWidth: 0.01, LoadCenter: 0, LoadHalfWidth: 0.5})
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 1, ice.Constrained)
}

func TestTrapezoidalLoad(t *testing.T) {
	m, err := New(fullSupport(4))
	require.NoError(t, err)

	// All five right-edge nodes loaded: interior -1/4, ends -1/8.
	first := m.Nx * (m.Ny + 1)
	sum := 0.0
	for _, v := range m.Load {
		sum += v
	}
	assert.InDelta(t, -1.0, sum, 1e-14)
	assert.InDelta(t, -0.125, m.Load[2*first+1], 1e-14)
	assert.InDelta(t, -0.25, m.Load[2*(first+1)+1], 1e-14)
	assert.InDelta(t, -0.25, m.Load[2*(first+2)+1], 1e-14)
	assert.InDelta(t, -0.125, m.Load[2*(first+4)+1], 1e-14)

	// Every last-column element touches a loaded node.
	assert.Equal(t, []int{28, 29, 30, 31}, m.LoadElems)
}

func TestPointLoad(t *testing.T) {
	m, err := New(Params{Ny: 4, SupportCenter: 0, SupportHalfWidth: 0.5, LoadCenter: 0, LoadHalfWidth: 0.1})
	require.NoError(t, err)

	center := m.Nx*(m.Ny+1) + 2 // right-edge node at y=0
	assert.InDelta(t, -1.0, m.Load[2*center+1], 1e-14)
	for d, v := range m.Load {
		if d != 2*center+1 {
			assert.Zero(t, v)
		}
	}
	assert.Equal(t, []int{29, 30}, m.LoadElems)
}

func TestZeroLoadPermitted(t *testing.T) {
	// Band between nodal positions: degenerate but valid.
	m, err := New(Params{Ny: 4, SupportCenter: 0, SupportHalfWidth: 0.5, LoadCenter: 0.4, LoadHalfWidth: 0.01})
	require.NoError(t, err)
	for _, v := range m.Load {
		assert.Zero(t, v)
	}
	assert.Empty(t, m.LoadElems)
}

func TestElementCenter(t *testing.T) {
	m, err := New(fullSupport(4))
	require.NoError(t, err)
	x, y := m.ElementCenter(0)
	assert.InDelta(t, 0.125, x, 1e-15)
	assert.InDelta(t, -0.375, y, 1e-15)
	x, y = m.ElementCenter(31)
	assert.InDelta(t, 1.875, x, 1e-15)
	assert.InDelta(t, 0.375, y, 1e-15)
}
