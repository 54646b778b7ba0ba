// Package qc computes per-cell quality summaries and removes outlier cells.
//
// A cell is an outlier when its log total count or log expressed-feature
// count falls more than NMADs median-absolute-deviations below the median,
// or its spike-in proportion more than NMADs above. Criteria are combined
// with OR; per-criterion counts are reported for auditability.
package qc

import (
	"math"
	"sort"

	"github.com/grailbio/singlecell/experiment"
)

// Opts configures outlier detection.
type Opts struct {
	// NMADs is the distance from the median, in median absolute deviations,
	// beyond which a cell is an outlier.
	NMADs float64
}

// DefaultOpts is the standard three-MAD rule.
var DefaultOpts = Opts{NMADs: 3}

// Metrics holds per-cell quality summaries.
type Metrics struct {
	// TotalCounts is the sum of all counts in a cell.
	TotalCounts []float64
	// NExprs is the number of features with a nonzero count in a cell.
	NExprs []float64
	// PctSpike and PctMito are the fraction (0..1) of a cell's counts that
	// fall in spike-in and mitochondrial rows.
	PctSpike []float64
	PctMito  []float64
}

// Compute derives Metrics from raw counts.
func Compute(e *experiment.Experiment) Metrics {
	nFeatures, nCells := e.NFeatures(), e.NCells()
	m := Metrics{
		TotalCounts: make([]float64, nCells),
		NExprs:      make([]float64, nCells),
		PctSpike:    make([]float64, nCells),
		PctMito:     make([]float64, nCells),
	}
	for i := 0; i < nFeatures; i++ {
		row := e.Counts.RawRowView(i)
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.TotalCounts[j] += v
			m.NExprs[j]++
			if e.IsSpike[i] {
				m.PctSpike[j] += v
			}
			if e.IsMito[i] {
				m.PctMito[j] += v
			}
		}
	}
	for j := range m.TotalCounts {
		if t := m.TotalCounts[j]; t > 0 {
			m.PctSpike[j] /= t
			m.PctMito[j] /= t
		}
	}
	return m
}

// Outliers flags cells failing each criterion and their OR.
type Outliers struct {
	LowLibSize []bool
	LowNExprs  []bool
	HighSpike  []bool
	Drop       []bool

	NLowLibSize, NLowNExprs, NHighSpike, NDrop int
}

// Identify applies the MAD rules to precomputed metrics.
func Identify(m Metrics, opts Opts) Outliers {
	out := Outliers{
		LowLibSize: lowOutliers(logValues(m.TotalCounts), opts.NMADs),
		LowNExprs:  lowOutliers(logValues(m.NExprs), opts.NMADs),
		HighSpike:  highOutliers(m.PctSpike, opts.NMADs),
	}
	out.Drop = make([]bool, len(out.LowLibSize))
	for j := range out.Drop {
		if out.LowLibSize[j] {
			out.NLowLibSize++
		}
		if out.LowNExprs[j] {
			out.NLowNExprs++
		}
		if out.HighSpike[j] {
			out.NHighSpike++
		}
		if out.LowLibSize[j] || out.LowNExprs[j] || out.HighSpike[j] {
			out.Drop[j] = true
			out.NDrop++
		}
	}
	return out
}

// Filter computes metrics, identifies outliers, and drops them from e.
func Filter(e *experiment.Experiment, opts Opts) Outliers {
	out := Identify(Compute(e), opts)
	keep := make([]bool, len(out.Drop))
	for j, drop := range out.Drop {
		keep[j] = !drop
	}
	e.FilterCells(keep)
	return out
}

func logValues(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Log(x) // zero maps to -Inf and is always flagged
	}
	return out
}

func lowOutliers(xs []float64, nmads float64) []bool {
	med, mad := medianMAD(xs)
	lo := med - nmads*mad
	out := make([]bool, len(xs))
	for i, x := range xs {
		out[i] = x < lo
	}
	return out
}

func highOutliers(xs []float64, nmads float64) []bool {
	med, mad := medianMAD(xs)
	hi := med + nmads*mad
	out := make([]bool, len(xs))
	for i, x := range xs {
		out[i] = x > hi
	}
	return out
}

// medianMAD returns the median and the median absolute deviation scaled by
// 1.4826, the usual normal-consistency constant.
func medianMAD(xs []float64) (med, mad float64) {
	med = median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return med, 1.4826 * median(devs)
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
