// Package beso runs Bi-directional Evolutionary Structural Optimization of
// one cantilever instance: minimize compliance over a boolean element
// topology under a 50% volume budget, with per-iteration caps on volume and
// topology change and a patience-based stop.
package beso

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/beso2d/factor"
	"github.com/notargets/beso2d/filter"
	"github.com/notargets/beso2d/mesh"
	"github.com/notargets/beso2d/sensitivity"
	"github.com/notargets/beso2d/stiffness"
)

// small compares floating-point objective values; an improvement must beat
// the incumbent by this relative margin to reset the patience counter.
const small = 1e-14

// Config holds the fixed optimization properties shared by every instance
// of a dataset run.
type Config struct {
	VolumeVariation   float64 // VV: per-iteration removal cap as fraction of N
	TopologyVariation float64 // TV: per-iteration flip cap as fraction of N
	FilterRadius      float64 // rmax: spatial filter radius
	Patience          int     // non-improving target-volume iterations before stopping
	Momentum          float64 // sensitivity momentum blend factor
}

// DefaultConfig returns the dataset-generation properties.
func DefaultConfig() Config {
	return Config{
		VolumeVariation:   0.015625,
		TopologyVariation: 0.031250,
		FilterRadius:      0.125,
		Patience:          20,
		Momentum:          0.50,
	}
}

// Validate rejects property values the optimization loop cannot terminate or
// stay finite under.
func (c Config) Validate() error {
	if c.Patience < 1 {
		return fmt.Errorf("beso: patience must be at least 1, got %d", c.Patience)
	}
	if c.FilterRadius <= 0 {
		return fmt.Errorf("beso: filter radius must be positive, got %v", c.FilterRadius)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("beso: momentum must be in [0,1), got %v", c.Momentum)
	}
	if c.VolumeVariation < 0 || c.TopologyVariation < 0 {
		return fmt.Errorf("beso: variation caps must be non-negative, got VV=%v TV=%v",
			c.VolumeVariation, c.TopologyVariation)
	}
	return nil
}

// Timing breaks one iteration's wall time into phases.
type Timing struct {
	Sensitivity time.Duration // sensitivity analysis, filter and momentum
	Update      time.Duration // topology flips and factor updates
	Solve       time.Duration // displacement re-solve
	Post        time.Duration // objective, volume and convergence bookkeeping
}

// SetupTiming breaks the pre-loop setup into phases.
type SetupTiming struct {
	Mesh      time.Duration // mesh and boundary model
	Assembly  time.Duration // global matrix assembly and reduction
	Analyze   time.Duration // symbolic analysis
	Factorize time.Duration // full numeric factorization and first solve
}

// IterationRecord snapshots the state a sensitivity pass was computed on,
// plus that state's objective and volume.
type IterationRecord struct {
	Topology       []bool
	Displacement   []float64 // full-size, fixed DOFs zero
	Sensitivity    sensitivity.Vectors
	Compliance     float64
	VolumeFraction float64
	Timing         Timing
}

// Result is the outcome of one optimization run.
type Result struct {
	Params         mesh.Params
	BestTopology   []bool
	BestCompliance float64
	Iterations     int
	Setup          SetupTiming
	Trajectory     []IterationRecord
}

// Optimizer drives one instance. It owns the mesh, topology, factorization
// and momentum state exclusively; none of it is shared across instances.
type Optimizer struct {
	cfg    Config
	params mesh.Params

	m      *mesh.Mesh
	system *stiffness.System
	bases  *stiffness.ElementBases
	fac    *factor.Handle
	eng    *sensitivity.Engine
	flt    *filter.Spatial
	mom    *filter.Momentum

	x  []bool        // topology, solid=true
	ug []float64     // full displacement
	ur *mat.VecDense // reduced displacement
	fr *mat.VecDense // reduced load

	vecs     *sensitivity.Vectors
	filtered []float64

	setup SetupTiming
}

// New builds an optimizer for the given instance parameters. It fails with
// *mesh.InsufficientConstraintError for invalid support bands.
func New(p mesh.Params, cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t0 := time.Now()
	m, err := mesh.New(p)
	if err != nil {
		return nil, err
	}
	var st SetupTiming
	st.Mesh = time.Since(t0)

	t0 = time.Now()
	ke := stiffness.ElementTemplate(stiffness.Young, stiffness.Poisson)
	bases, err := stiffness.NewElementBases(stiffness.Variation(ke))
	if err != nil {
		return nil, err
	}
	sys := stiffness.NewSystem(m, ke)
	st.Assembly = time.Since(t0)

	o := &Optimizer{
		cfg:      cfg,
		params:   p,
		m:        m,
		system:   sys,
		bases:    bases,
		fac:      factor.NewHandle(),
		flt:      filter.NewSpatial(m, cfg.FilterRadius),
		mom:      filter.NewMomentum(cfg.Momentum, m.N, m.LoadElems),
		x:        make([]bool, m.N),
		ug:       make([]float64, m.DOFs),
		ur:       mat.NewVecDense(m.NumFree, nil),
		fr:       mat.NewVecDense(m.NumFree, m.ReducedLoad),
		vecs:     sensitivity.NewVectors(m.N),
		filtered: make([]float64, m.N),
		setup:    st,
	}
	for e := range o.x {
		o.x[e] = true
	}
	o.eng = sensitivity.NewEngine(m, bases, o.fac)

	t0 = time.Now()
	if err := o.fac.Analyze(m.NumFree); err != nil {
		return nil, err
	}
	o.setup.Analyze = time.Since(t0)
	return o, nil
}

// Mesh returns the instance's mesh.
func (o *Optimizer) Mesh() *mesh.Mesh { return o.m }

// RunOptimization is the single-call entry point: build an optimizer for p
// and run it to convergence.
func RunOptimization(p mesh.Params, cfg Config) (*Result, error) {
	o, err := New(p, cfg)
	if err != nil {
		return nil, err
	}
	return o.Run()
}

// Run executes the optimization loop to convergence and returns the best
// feasible topology observed. Fatal errors (lost definiteness) abort the
// run with no retry.
func (o *Optimizer) Run() (*Result, error) {
	t0 := time.Now()
	if err := o.fac.Factorize(o.system.ReducedSym()); err != nil {
		return nil, err
	}
	if err := o.solve(); err != nil {
		return nil, err
	}
	o.setup.Factorize = time.Since(t0)

	n := o.m.N
	vt := n / 2
	vol := n
	dVmax := int(o.cfg.VolumeVariation * float64(n))
	if dVmax < 1 {
		dVmax = 1
	}
	dXmax := o.cfg.TopologyVariation * float64(n)
	if dXmax < 2 {
		dXmax = 2
	}

	res := &Result{
		Params:         o.params,
		BestCompliance: math.Inf(1),
		Setup:          o.setup,
	}

	obj := o.compliance()
	waiting := 0
	it := 0

	for {
		it++
		var tm Timing

		t := time.Now()
		if err := o.eng.Compute(o.x, o.ur.RawVector().Data, o.vecs); err != nil {
			return nil, fmt.Errorf("beso: iteration %d: %w", it, err)
		}
		o.flt.Apply(o.vecs.Raw, o.filtered)
		m := o.mom.Step(o.filtered)
		tm.Sensitivity = time.Since(t)

		rec := o.snapshot(obj, vol)

		t = time.Now()
		if _, err := o.updateTopology(m, &vol, vt, dVmax, dXmax); err != nil {
			return nil, fmt.Errorf("beso: iteration %d: %w", it, err)
		}
		tm.Update = time.Since(t)

		t = time.Now()
		if err := o.solve(); err != nil {
			return nil, fmt.Errorf("beso: iteration %d: %w", it, err)
		}
		tm.Solve = time.Since(t)

		t = time.Now()
		obj = o.compliance()
		done := false
		if vol == vt {
			if obj < (1.0-small)*res.BestCompliance {
				if res.BestTopology == nil {
					res.BestTopology = make([]bool, n)
				}
				copy(res.BestTopology, o.x)
				res.BestCompliance = obj
				waiting = 0
			} else {
				waiting++
				if waiting >= o.cfg.Patience {
					done = true
				}
			}
		}
		tm.Post = time.Since(t)

		rec.Timing = tm
		res.Trajectory = append(res.Trajectory, rec)

		if done {
			break
		}
	}

	// Final sensitivity pass on the converged state, so the trajectory's
	// last record describes the topology the loop stopped on.
	if err := o.eng.Compute(o.x, o.ur.RawVector().Data, o.vecs); err != nil {
		return nil, fmt.Errorf("beso: final sensitivity: %w", err)
	}
	res.Trajectory = append(res.Trajectory, o.snapshot(obj, vol))
	res.Iterations = it
	return res, nil
}

// snapshot copies the current state into a trajectory record.
func (o *Optimizer) snapshot(obj float64, vol int) IterationRecord {
	top := make([]bool, len(o.x))
	copy(top, o.x)
	dis := make([]float64, len(o.ug))
	copy(dis, o.ug)
	sv := sensitivity.NewVectors(o.m.N)
	sv.CopyFrom(o.vecs)
	return IterationRecord{
		Topology:       top,
		Displacement:   dis,
		Sensitivity:    *sv,
		Compliance:     obj,
		VolumeFraction: float64(vol) / float64(o.m.N),
	}
}

// solve updates the displacement field from the current factorization.
func (o *Optimizer) solve() error {
	if err := o.fac.SolveVec(o.ur, o.fr); err != nil {
		return err
	}
	raw := o.ur.RawVector().Data
	for r, d := range o.m.FreeDOFIndices() {
		o.ug[d] = raw[r]
	}
	return nil
}

// compliance is the objective u·f, the work done by the external load.
func (o *Optimizer) compliance() float64 {
	return floats.Dot(o.ug, o.m.Load)
}

// flip sets element e's state and propagates the change to the assembly and
// the factorization (downdate on removal, update on insertion).
func (o *Optimizer) flip(e int, makeSolid bool) error {
	o.x[e] = makeSolid
	o.system.UpdateElement(e, makeSolid)
	gv, free := o.m.FreeElementDOFs(e)
	he, _ := o.bases.For(free)
	return o.fac.Update(gv, he, !makeSolid)
}
