// Package variance separates per-gene expression variance into a technical
// component, modeled by a smooth mean-variance trend fitted to the spike-in
// transcripts, and a biological residual used to rank genes.
package variance

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/grailbio/singlecell/experiment"
)

// Opts configures the trend fit.
type Opts struct {
	// Span is the local-regression smoothing span, as a fraction of the
	// fitted points.
	Span float64
	// MinSpikes is the minimum number of spike-in rows required to fit the
	// trend on spike-ins alone; below it the trend is fitted on all rows.
	MinSpikes int
}

// DefaultOpts uses the workflow's span of 0.4.
var DefaultOpts = Opts{Span: 0.4, MinSpikes: 8}

// Decomposition holds per-feature variance components, indexed like the
// experiment's rows.
type Decomposition struct {
	// Mean and Total are the observed moments of log expression.
	Mean, Total []float64
	// Tech is the trend value at each feature's mean; Bio is Total - Tech.
	// Negative Bio marks noise-dominated genes; they are ranked last, not
	// removed.
	Tech, Bio []float64
	// Order lists non-spike feature indices, descending by Bio.
	Order []int
}

// Decompose fits the technical trend and decomposes each feature's variance.
//
// REQUIRES: e.LogExprs is set.
func Decompose(e *experiment.Experiment, opts Opts) (*Decomposition, error) {
	if e.LogExprs == nil {
		return nil, fmt.Errorf("variance: log expression not computed (was normalization run?)")
	}
	n := e.NFeatures()
	d := &Decomposition{
		Mean:  make([]float64, n),
		Total: make([]float64, n),
		Tech:  make([]float64, n),
		Bio:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		d.Mean[i], d.Total[i] = stat.MeanVariance(e.LogExprs.RawRowView(i), nil)
	}

	fitRows := e.SpikeRows()
	if len(fitRows) < opts.MinSpikes {
		fitRows = make([]int, n)
		for i := range fitRows {
			fitRows[i] = i
		}
	}
	xs := make([]float64, len(fitRows))
	ys := make([]float64, len(fitRows))
	for x, i := range fitRows {
		xs[x] = d.Mean[i]
		ys[x] = d.Total[i]
	}
	trend, err := fitLoess(xs, ys, opts.Span)
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		t := trend(d.Mean[i])
		if t < 0 {
			t = 0
		}
		d.Tech[i] = t
		d.Bio[i] = d.Total[i] - t
	}

	for i := 0; i < n; i++ {
		if !e.IsSpike[i] {
			d.Order = append(d.Order, i)
		}
	}
	sort.SliceStable(d.Order, func(a, b int) bool {
		return d.Bio[d.Order[a]] > d.Bio[d.Order[b]]
	})
	return d, nil
}

// TopGenes returns the first n ranked feature indices.
func (d *Decomposition) TopGenes(n int) []int {
	if n > len(d.Order) {
		n = len(d.Order)
	}
	return d.Order[:n]
}
