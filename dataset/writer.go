package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// InstancesPerChunk is how many instances share one output directory.
const InstancesPerChunk = 16

// WriteChunks packs results into NumPy files under dir, one subdirectory
// per chunk of InstancesPerChunk instances:
//
//	fid      instance ids                      uint32, len k
//	inp      band parameters                   float64, k×4
//	top_opt  best topologies, bit-packed rows  uint8, k rows of ⌈N/8⌉ bytes
//	obj_opt  best compliances                  float64, len k
//	ptr2opt  snapshot offset per instance      uint32, len k+1
//	ptr2inp  instance index per snapshot       uint32, len S
//	top      snapshot topologies, bit-packed   uint8, S rows of ⌈N/8⌉ bytes
//	dis      snapshot displacements            float64, S×DOFs
//	sen_0/1/2/w  snapshot sensitivities        float64, S×N
//	obj,vol  snapshot objective / volume frac  float64, len S
//	tim      per-instance timing               float64, k×10: setup phases
//	         (mesh, assembly, analyze, factorize), iteration count,
//	         per-iteration phase means (sensitivity, update, solve, post),
//	         total elapsed; all times in seconds
//
// All instances of a chunk must share one mesh resolution so the 2D arrays
// are rectangular.
func WriteChunks(dir string, results []InstanceResult) error {
	for chunk := 0; chunk*InstancesPerChunk < len(results); chunk++ {
		lo := chunk * InstancesPerChunk
		hi := lo + InstancesPerChunk
		if hi > len(results) {
			hi = len(results)
		}
		sub := filepath.Join(dir, fmt.Sprintf("file_%05d", chunk))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("dataset: %w", err)
		}
		if err := writeChunk(sub, results[lo:hi]); err != nil {
			return fmt.Errorf("dataset: chunk %d: %w", chunk, err)
		}
	}
	return nil
}

func writeChunk(dir string, results []InstanceResult) error {
	ny := results[0].Instance.Ny
	for _, r := range results {
		if r.Instance.Ny != ny {
			return fmt.Errorf("mixed mesh resolutions %d and %d in one chunk", ny, r.Instance.Ny)
		}
	}
	k := len(results)
	nElem := len(results[0].Result.BestTopology)
	nDOF := len(results[0].Result.Trajectory[0].Displacement)

	snaps := 0
	for _, r := range results {
		snaps += len(r.Result.Trajectory)
	}

	fid := make([]uint32, k)
	inp := mat.NewDense(k, 4, nil)
	topOpt := make([]uint8, 0, k*packedLen(nElem))
	objOpt := make([]float64, k)
	ptr2opt := make([]uint32, 0, k+1)
	ptr2inp := make([]uint32, 0, snaps)
	top := make([]uint8, 0, snaps*packedLen(nElem))
	dis := mat.NewDense(snaps, nDOF, nil)
	sen := [4]*mat.Dense{}
	for i := range sen {
		sen[i] = mat.NewDense(snaps, nElem, nil)
	}
	obj := make([]float64, 0, snaps)
	vol := make([]float64, 0, snaps)
	tim := mat.NewDense(k, 10, nil)

	row := 0
	for i, r := range results {
		res := r.Result
		fid[i] = uint32(r.Instance.ID)
		inp.SetRow(i, []float64{
			r.Instance.SupportCenter, r.Instance.SupportHalfWidth,
			r.Instance.LoadCenter, r.Instance.LoadHalfWidth,
		})
		topOpt = append(topOpt, packBits(res.BestTopology)...)
		objOpt[i] = res.BestCompliance
		ptr2opt = append(ptr2opt, uint32(row))

		var sens, upd, slv, post float64
		for _, rec := range res.Trajectory {
			ptr2inp = append(ptr2inp, uint32(i))
			top = append(top, packBits(rec.Topology)...)
			dis.SetRow(row, rec.Displacement)
			sen[0].SetRow(row, rec.Sensitivity.CGS0)
			sen[1].SetRow(row, rec.Sensitivity.CGS1)
			sen[2].SetRow(row, rec.Sensitivity.CGS2)
			sen[3].SetRow(row, rec.Sensitivity.Raw)
			obj = append(obj, rec.Compliance)
			vol = append(vol, rec.VolumeFraction)
			sens += rec.Timing.Sensitivity.Seconds()
			upd += rec.Timing.Update.Seconds()
			slv += rec.Timing.Solve.Seconds()
			post += rec.Timing.Post.Seconds()
			row++
		}
		iters := float64(res.Iterations)
		tim.SetRow(i, []float64{
			res.Setup.Mesh.Seconds(), res.Setup.Assembly.Seconds(),
			res.Setup.Analyze.Seconds(), res.Setup.Factorize.Seconds(),
			iters,
			sens / iters, upd / iters, slv / iters, post / iters,
			r.Elapsed.Seconds(),
		})
	}
	ptr2opt = append(ptr2opt, uint32(row))

	files := map[string]interface{}{
		"fid.npy":     fid,
		"inp.npy":     inp,
		"top_opt.npy": topOpt,
		"obj_opt.npy": objOpt,
		"ptr2opt.npy": ptr2opt,
		"ptr2inp.npy": ptr2inp,
		"top.npy":     top,
		"dis.npy":     dis,
		"sen_0.npy":   sen[0],
		"sen_1.npy":   sen[1],
		"sen_2.npy":   sen[2],
		"sen_w.npy":   sen[3],
		"obj.npy":     obj,
		"vol.npy":     vol,
		"tim.npy":     tim,
	}
	for name, v := range files {
		if err := writeNpy(filepath.Join(dir, name), v); err != nil {
			return err
		}
	}
	return nil
}

func writeNpy(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, v); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func packedLen(n int) int { return (n + 7) / 8 }

// packBits packs a boolean vector MSB-first, numpy packbits order.
func packBits(x []bool) []uint8 {
	out := make([]uint8, packedLen(len(x)))
	for i, v := range x {
		if v {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}
