// Package normalize computes per-cell scaling factors and rescales counts
// into log expression values.
//
// Cells are first grouped coarsely so that the median-ratio factor
// estimation is not distorted by extreme composition differences between
// cell types: factors are estimated within each group against the group
// pseudo-cell and then chained to a grand reference pseudo-cell. Spike-in
// rows get an independent factor set since spike-ins do not share the
// biological scaling of the endogenous genes.
package normalize

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/experiment"
)

// Opts configures normalization.
type Opts struct {
	// GroupSize is the target number of cells per coarse group.
	GroupSize int
	// MinMean is the minimum grand mean count for a gene to participate in
	// factor estimation.
	MinMean float64
	// Seed drives the grouping k-means.
	Seed int64
	// MaxIter bounds the k-means iterations.
	MaxIter int
}

// DefaultOpts mirrors the workflow defaults; MinMean 0.1 defines usable
// genes.
var DefaultOpts = Opts{
	GroupSize: 100,
	MinMean:   0.1,
	Seed:      1,
	MaxIter:   25,
}

// Run groups cells, computes endogenous and spike-in size factors, stores
// both on e, and fills e.LogExprs from the endogenous factors.
func Run(e *experiment.Experiment, opts Opts) error {
	groups := QuickGroups(e, opts)
	sf, err := ComputeSizeFactors(e, groups, opts)
	if err != nil {
		return err
	}
	ssf, err := ComputeSpikeFactors(e)
	if err != nil {
		return err
	}
	e.SizeFactors = sf
	e.SpikeSizeFactors = ssf
	LogNormalize(e)
	return nil
}

// QuickGroups partitions cells into coarse groups by k-means over log
// library-size-normalized profiles of the highest-abundance endogenous
// genes. With fewer than two target groups all cells share group 0.
func QuickGroups(e *experiment.Experiment, opts Opts) []int {
	nCells := e.NCells()
	k := nCells / opts.GroupSize
	if k < 2 {
		return make([]int, nCells)
	}

	endo := e.EndogenousRows()
	rows := topMeanRows(e, endo, 500)
	profiles := make([][]float64, nCells)
	for j := 0; j < nCells; j++ {
		total := 0.0
		for _, i := range endo {
			total += e.Counts.At(i, j)
		}
		if total == 0 {
			total = 1
		}
		p := make([]float64, len(rows))
		for x, i := range rows {
			p[x] = math.Log1p(1e4 * e.Counts.At(i, j) / total)
		}
		profiles[j] = p
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	return kmeans(profiles, k, opts.MaxIter, rng)
}

// ComputeSizeFactors returns one positive scaling factor per cell, scaled to
// mean 1, estimated by median count ratios within the given groups.
func ComputeSizeFactors(e *experiment.Experiment, groups []int, opts Opts) ([]float64, error) {
	nCells := e.NCells()
	endo := e.EndogenousRows()

	// Usable genes: grand mean count at or above MinMean.
	var usable []int
	ref := make(map[int]float64)
	for _, i := range endo {
		row := e.Counts.RawRowView(i)
		m := 0.0
		for _, v := range row {
			m += v
		}
		m /= float64(nCells)
		if m >= opts.MinMean {
			usable = append(usable, i)
			ref[i] = m
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("normalize: no genes with mean count >= %g", opts.MinMean)
	}

	nGroups := 0
	for _, g := range groups {
		if g+1 > nGroups {
			nGroups = g + 1
		}
	}

	factors := make([]float64, nCells)
	for g := 0; g < nGroups; g++ {
		var members []int
		for j, gj := range groups {
			if gj == g {
				members = append(members, j)
			}
		}
		if len(members) == 0 {
			continue
		}

		// Group pseudo-cell and its factor against the grand reference.
		pseudo := make(map[int]float64, len(usable))
		for _, i := range usable {
			s := 0.0
			for _, j := range members {
				s += e.Counts.At(i, j)
			}
			pseudo[i] = s / float64(len(members))
		}
		var ratios []float64
		for _, i := range usable {
			if pseudo[i] > 0 && ref[i] > 0 {
				ratios = append(ratios, pseudo[i]/ref[i])
			}
		}
		groupFactor := median(ratios)
		if !(groupFactor > 0) {
			return nil, fmt.Errorf("normalize: group %d has non-positive pseudo-cell factor", g)
		}

		for _, j := range members {
			ratios = ratios[:0]
			for _, i := range usable {
				if pseudo[i] > 0 {
					ratios = append(ratios, e.Counts.At(i, j)/pseudo[i])
				}
			}
			factors[j] = median(ratios) * groupFactor
		}
	}

	mean := 0.0
	for _, f := range factors {
		if !(f > 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("normalize: non-positive size factor (too many zero counts; was QC run?)")
		}
		mean += f
	}
	mean /= float64(nCells)
	for j := range factors {
		factors[j] /= mean
	}
	return factors, nil
}

// ComputeSpikeFactors returns per-cell factors proportional to the total
// spike-in count, scaled to mean 1.
func ComputeSpikeFactors(e *experiment.Experiment) ([]float64, error) {
	spike := e.SpikeRows()
	if len(spike) == 0 {
		return nil, fmt.Errorf("normalize: no spike-in rows")
	}
	nCells := e.NCells()
	factors := make([]float64, nCells)
	mean := 0.0
	for j := 0; j < nCells; j++ {
		t := 0.0
		for _, i := range spike {
			t += e.Counts.At(i, j)
		}
		if t == 0 {
			return nil, fmt.Errorf("normalize: cell %q has zero spike-in counts", e.Cells[j])
		}
		factors[j] = t
		mean += t
	}
	mean /= float64(nCells)
	for j := range factors {
		factors[j] /= mean
	}
	return factors, nil
}

// LogNormalize fills e.LogExprs with log2(count/factor + 1) using the
// endogenous size factors.
//
// REQUIRES: e.SizeFactors is set.
func LogNormalize(e *experiment.Experiment) {
	nFeatures, nCells := e.NFeatures(), e.NCells()
	out := make([]float64, nFeatures*nCells)
	x := 0
	for i := 0; i < nFeatures; i++ {
		row := e.Counts.RawRowView(i)
		for j, v := range row {
			out[x] = math.Log2(v/e.SizeFactors[j] + 1)
			x++
		}
	}
	e.LogExprs = mat.NewDense(nFeatures, nCells, out)
}

func topMeanRows(e *experiment.Experiment, rows []int, n int) []int {
	type rowMean struct {
		row  int
		mean float64
	}
	means := make([]rowMean, len(rows))
	for x, i := range rows {
		s := 0.0
		for _, v := range e.Counts.RawRowView(i) {
			s += v
		}
		means[x] = rowMean{i, s}
	}
	sort.Slice(means, func(a, b int) bool { return means[a].mean > means[b].mean })
	if n > len(means) {
		n = len(means)
	}
	out := make([]int, n)
	for x := 0; x < n; x++ {
		out[x] = means[x].row
	}
	sort.Ints(out)
	return out
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
