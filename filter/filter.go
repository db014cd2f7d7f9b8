// Package filter smooths raw element sensitivities: a radius-weighted
// spatial average over element centroids followed by an exponential
// moving-average ("momentum") blend across iterations. Load-carrying
// elements are excluded from the average and pinned to -Inf so the flip rule
// can never remove them.
package filter

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/beso2d/mesh"
)

type neighbor struct {
	elem   int
	weight float64
}

// Spatial averages each element's sensitivity over the elements within
// Euclidean centroid distance rmax, with the linear cone kernel
// w = rmax − d. Neighbor lists are precomputed once per instance; load-band
// elements neither receive nor contribute.
type Spatial struct {
	n         int
	neighbors [][]neighbor // nil for load-band elements
	wsum      []float64
}

// NewSpatial precomputes the neighbor lists for m with filter radius rmax.
func NewSpatial(m *mesh.Mesh, rmax float64) *Spatial {
	inLoad := make([]bool, m.N)
	for _, e := range m.LoadElems {
		inLoad[e] = true
	}

	f := &Spatial{
		n:         m.N,
		neighbors: make([][]neighbor, m.N),
		wsum:      make([]float64, m.N),
	}
	reach := int(rmax/m.ESize) + 1
	for e := 0; e < m.N; e++ {
		if inLoad[e] {
			continue
		}
		col := e / m.Ny
		row := e % m.Ny
		for dc := -reach; dc <= reach; dc++ {
			c := col + dc
			if c < 0 || c >= m.Nx {
				continue
			}
			for dr := -reach; dr <= reach; dr++ {
				r := row + dr
				if r < 0 || r >= m.Ny {
					continue
				}
				o := c*m.Ny + r
				if inLoad[o] {
					continue
				}
				d := math.Hypot(float64(dc), float64(dr)) * m.ESize
				if d >= rmax {
					continue
				}
				f.neighbors[e] = append(f.neighbors[e], neighbor{elem: o, weight: rmax - d})
				f.wsum[e] += rmax - d
			}
		}
	}
	return f
}

// Apply writes the filtered field into out. Load-band entries are zeroed;
// they are overridden by the momentum sentinel downstream.
func (f *Spatial) Apply(raw, out []float64) {
	for e := 0; e < f.n; e++ {
		if f.neighbors[e] == nil {
			out[e] = 0
			continue
		}
		s := 0.0
		for _, nb := range f.neighbors[e] {
			s += nb.weight * raw[nb.elem]
		}
		out[e] = s / f.wsum[e]
	}
}

// Momentum carries the exponentially smoothed sensitivity field across the
// iterations of one optimization run. State is reset at construction only:
// a new problem instance gets a new Momentum.
type Momentum struct {
	beta      float64
	state     []float64
	loadElems []int
}

// NewMomentum returns a zeroed smoother for n elements with blend factor
// beta and the given load-band element set.
func NewMomentum(beta float64, n int, loadElems []int) *Momentum {
	return &Momentum{
		beta:      beta,
		state:     make([]float64, n),
		loadElems: loadElems,
	}
}

// Step folds a filtered field into the carried state and returns the state:
// load-band entries are cleared of the previous sentinel, the field is
// normalized by its own max magnitude, blended, renormalized, and the
// load-band entries forced to -Inf. The returned slice aliases internal
// state and is valid until the next Step.
func (mo *Momentum) Step(filtered []float64) []float64 {
	for _, e := range mo.loadElems {
		mo.state[e] = 0
	}
	scale := floats.Norm(filtered, math.Inf(1))
	if scale == 0 {
		scale = 1 // degenerate zero-load field, nothing to normalize
	}
	for i, v := range filtered {
		mo.state[i] = mo.beta*mo.state[i] + (1-mo.beta)*v/scale
	}
	scale = floats.Norm(mo.state, math.Inf(1))
	if scale != 0 {
		floats.Scale(1/scale, mo.state)
	}
	for _, e := range mo.loadElems {
		mo.state[e] = math.Inf(-1)
	}
	return mo.state
}
