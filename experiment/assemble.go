package experiment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/encoding/counts"
)

// Assemble stacks the three aligned sources vertically, in fixed order
// endogenous, mito, spike, into one Experiment. The endogenous source is
// expected to be collapsed already. The endogenous metadata becomes the
// per-cell annotation table; the spike and mito metadata carry no extra
// information once alignment has been verified and are dropped.
//
// REQUIRES: Align succeeded on the three sources.
func Assemble(endo, mito, spike *counts.Source) (*Experiment, error) {
	nCells := endo.NCells()
	for _, src := range []*counts.Source{mito, spike} {
		if src.NCells() != nCells {
			return nil, fmt.Errorf("assemble: source has %d cells, want %d (was Align run?)", src.NCells(), nCells)
		}
	}

	nEndo, nMito, nSpike := endo.NFeatures(), mito.NFeatures(), spike.NFeatures()
	n := nEndo + nMito + nSpike
	stacked := mat.NewDense(n, nCells, nil)
	features := make([]string, 0, n)
	isSpike := make([]bool, n)
	isMito := make([]bool, n)

	row := 0
	for _, block := range []struct {
		src   *counts.Source
		flags []bool
	}{
		{endo, nil},
		{mito, isMito},
		{spike, isSpike},
	} {
		for i := 0; i < block.src.NFeatures(); i++ {
			stacked.SetRow(row, block.src.Counts.RawRowView(i))
			if block.flags != nil {
				block.flags[row] = true
			}
			row++
		}
		features = append(features, block.src.Features...)
	}

	return &Experiment{
		Counts:     stacked,
		Features:   features,
		EnsemblIDs: make([]string, n),
		IsSpike:    isSpike,
		IsMito:     isMito,
		Cells:      append([]string(nil), endo.Cells...),
		Metadata:   endo.Metadata,
	}, nil
}

// AttachGeneIDs resolves feature symbols to external identifiers through
// lookup. Unresolved symbols are left empty; resolution failure is expected
// for spike-ins and for symbols absent from the annotation build.
func (e *Experiment) AttachGeneIDs(lookup map[string]string) {
	for i, name := range e.Features {
		e.EnsemblIDs[i] = lookup[name]
	}
}
