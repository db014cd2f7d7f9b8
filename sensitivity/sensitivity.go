// Package sensitivity ranks elements by the compliance change caused by
// flipping their state, reusing the instance's current factorization instead
// of refactorizing per candidate.
//
// For an element with free-DOF scatter gv and eigenbasis He of its stiffness
// variation, the local coupling matrix is
//
//	Ai = (L⁻¹·P·Ĥe)ᵀ·(L⁻¹·P·Ĥe),  vi = Heᵀ·u[gv]
//
// with Ĥe the basis scattered into a full-size block. The exact ("WS")
// sensitivity is the rational form −viᵀ(I∓Ai)⁻¹vi; the CGS orders 0, 1 and 2
// are its truncated Neumann series obtained by repeated refinement
// w ← vi ± Ai·w. More negative means more beneficial to flip.
package sensitivity

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/beso2d/factor"
	"github.com/notargets/beso2d/mesh"
	"github.com/notargets/beso2d/stiffness"
)

// Vectors holds the four per-element sensitivity measures produced each
// iteration. Only Raw feeds the topology update; all four are retained for
// dataset output.
type Vectors struct {
	CGS0 []float64
	CGS1 []float64
	CGS2 []float64
	Raw  []float64
}

// NewVectors allocates sensitivity vectors for n elements.
func NewVectors(n int) *Vectors {
	return &Vectors{
		CGS0: make([]float64, n),
		CGS1: make([]float64, n),
		CGS2: make([]float64, n),
		Raw:  make([]float64, n),
	}
}

// CopyFrom copies src into v.
func (v *Vectors) CopyFrom(src *Vectors) {
	copy(v.CGS0, src.CGS0)
	copy(v.CGS1, src.CGS1)
	copy(v.CGS2, src.CGS2)
	copy(v.Raw, src.Raw)
}

// Engine computes sensitivity vectors against one mesh and one factorization
// handle. It owns full-size scratch blocks and is not safe for concurrent
// use.
type Engine struct {
	m     *mesh.Mesh
	bases *stiffness.ElementBases
	fac   *factor.Handle

	scatter *mat.Dense // NumFree×maxRank, He scattered to gv rows
	aux     *mat.Dense // NumFree×maxRank, L⁻¹·P·scatter
}

// NewEngine builds an engine over m, its element bases and the instance's
// factorization handle.
func NewEngine(m *mesh.Mesh, bases *stiffness.ElementBases, fac *factor.Handle) *Engine {
	w := bases.MaxRank()
	return &Engine{
		m:       m,
		bases:   bases,
		fac:     fac,
		scatter: mat.NewDense(m.NumFree, w, nil),
		aux:     mat.NewDense(m.NumFree, w, nil),
	}
}

// Compute fills out with all four sensitivity measures for topology x and
// reduced displacement ur. The factorization must be current for x.
func (e *Engine) Compute(x []bool, ur []float64, out *Vectors) error {
	if len(x) != e.m.N {
		return fmt.Errorf("sensitivity: topology has %d elements, mesh has %d", len(x), e.m.N)
	}
	if len(ur) != e.m.NumFree {
		return fmt.Errorf("sensitivity: displacement has %d entries, want %d", len(ur), e.m.NumFree)
	}

	var ai [25]float64 // rank ≤ 5
	var vi, w, t [5]float64

	for el := 0; el < e.m.N; el++ {
		gv, free := e.m.FreeElementDOFs(el)
		he, _ := e.bases.For(free)
		_, rank := he.Dims()

		sc := e.scatter.Slice(0, e.m.NumFree, 0, rank).(*mat.Dense)
		au := e.aux.Slice(0, e.m.NumFree, 0, rank).(*mat.Dense)
		for i, d := range gv {
			for j := 0; j < rank; j++ {
				sc.Set(d, j, he.At(i, j))
			}
		}
		e.fac.ApplyPermutation(au, sc)
		if err := e.fac.SolveLower(au); err != nil {
			return err
		}
		for _, d := range gv {
			for j := 0; j < rank; j++ {
				sc.Set(d, j, 0)
			}
		}

		// Ai = auxᵀ·aux, symmetric rank×rank.
		for p := 0; p < rank; p++ {
			for q := p; q < rank; q++ {
				s := 0.0
				for r := 0; r < e.m.NumFree; r++ {
					s += au.At(r, p) * au.At(r, q)
				}
				ai[p*rank+q] = s
				ai[q*rank+p] = s
			}
		}
		for j := 0; j < rank; j++ {
			s := 0.0
			for i, d := range gv {
				s += he.At(i, j) * ur[d]
			}
			vi[j] = s
		}

		// Refinement sign: +Ai for solid (series of (I-Ai)⁻¹), -Ai for void.
		sign := 1.0
		if !x[el] {
			sign = -1.0
		}
		copy(w[:rank], vi[:rank])
		out.CGS0[el] = -dot(vi[:rank], w[:rank])
		refine(ai[:], vi[:rank], w[:rank], t[:rank], sign, rank)
		out.CGS1[el] = -dot(vi[:rank], w[:rank])
		refine(ai[:], vi[:rank], w[:rank], t[:rank], sign, rank)
		out.CGS2[el] = -dot(vi[:rank], w[:rank])

		raw, err := rational(ai[:], vi[:rank], sign, rank)
		if err != nil {
			return fmt.Errorf("sensitivity: element %d: %w", el, err)
		}
		out.Raw[el] = raw
	}
	return nil
}

// refine performs one Neumann refinement step w ← vi + sign·Ai·w.
func refine(ai, vi, w, t []float64, sign float64, rank int) {
	for p := 0; p < rank; p++ {
		s := 0.0
		for q := 0; q < rank; q++ {
			s += ai[p*rank+q] * w[q]
		}
		t[p] = vi[p] + sign*s
	}
	copy(w, t)
}

// rational evaluates the exact form −viᵀ(I−sign·Ai)⁻¹vi.
func rational(ai, vi []float64, sign float64, rank int) (float64, error) {
	m := mat.NewDense(rank, rank, nil)
	for p := 0; p < rank; p++ {
		for q := 0; q < rank; q++ {
			v := -sign * ai[p*rank+q]
			if p == q {
				v++
			}
			m.Set(p, q, v)
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return 0, fmt.Errorf("coupling system singular: %w", err)
	}
	s := 0.0
	for p := 0; p < rank; p++ {
		for q := 0; q < rank; q++ {
			s += vi[p] * inv.At(p, q) * vi[q]
		}
	}
	return -s, nil
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
