// Package experiment defines the annotated expression matrix that carries
// the state of a single-cell analysis run, and the assembly steps that build
// it from parsed count sources: cell alignment across sources, duplicate
// gene-row collapsing, and block stacking with per-row category flags.
//
// One Experiment value is created at assembly time and then mutated in place
// by each pipeline stage. There is no concurrent access.
package experiment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/encoding/counts"
)

// Experiment is a feature-by-cell count matrix with row (feature) and column
// (cell) annotations. All row-indexed slices have NFeatures() entries and all
// column-indexed slices have NCells() entries; FilterFeatures and FilterCells
// keep them aligned.
type Experiment struct {
	// Counts holds raw molecule counts, features x cells.
	Counts *mat.Dense
	// LogExprs holds normalized log2 expression. Nil until normalization.
	LogExprs *mat.Dense

	// Row annotations.
	Features   []string
	EnsemblIDs []string // "" where the symbol did not resolve
	IsSpike    []bool
	IsMito     []bool

	// Column annotations.
	Cells            []string
	Metadata         *counts.Metadata
	SizeFactors      []float64 // nil until normalization
	SpikeSizeFactors []float64 // nil until normalization
	PCs              *mat.Dense // cells x components, nil until reduction
	TSNE             *mat.Dense // cells x 2, nil until reduction
	Clusters         []int      // nil until clustering
}

// NFeatures returns the number of matrix rows.
func (e *Experiment) NFeatures() int {
	r, _ := e.Counts.Dims()
	return r
}

// NCells returns the number of matrix columns.
func (e *Experiment) NCells() int {
	_, c := e.Counts.Dims()
	return c
}

// FilterCells removes every cell whose keep entry is false, slicing all
// column annotations consistently.
func (e *Experiment) FilterCells(keep []bool) {
	e.Counts = selectColumns(e.Counts, keep)
	if e.LogExprs != nil {
		e.LogExprs = selectColumns(e.LogExprs, keep)
	}
	e.Cells = selectStrings(e.Cells, keep)
	if e.Metadata != nil {
		e.Metadata.Select(keep)
	}
	e.SizeFactors = selectFloats(e.SizeFactors, keep)
	e.SpikeSizeFactors = selectFloats(e.SpikeSizeFactors, keep)
	if e.PCs != nil {
		e.PCs = selectRows(e.PCs, keep)
	}
	if e.TSNE != nil {
		e.TSNE = selectRows(e.TSNE, keep)
	}
	e.Clusters = selectInts(e.Clusters, keep)
}

// FilterFeatures removes every matrix row whose keep entry is false, slicing
// all row annotations consistently.
func (e *Experiment) FilterFeatures(keep []bool) {
	e.Counts = selectRows(e.Counts, keep)
	if e.LogExprs != nil {
		e.LogExprs = selectRows(e.LogExprs, keep)
	}
	e.Features = selectStrings(e.Features, keep)
	e.EnsemblIDs = selectStrings(e.EnsemblIDs, keep)
	e.IsSpike = selectBools(e.IsSpike, keep)
	e.IsMito = selectBools(e.IsMito, keep)
}

// SpikeRows returns the indices of spike-in rows.
func (e *Experiment) SpikeRows() []int {
	var rows []int
	for i, s := range e.IsSpike {
		if s {
			rows = append(rows, i)
		}
	}
	return rows
}

// EndogenousRows returns the indices of rows that are neither spike-in nor
// mitochondrial.
func (e *Experiment) EndogenousRows() []int {
	var rows []int
	for i := range e.Features {
		if !e.IsSpike[i] && !e.IsMito[i] {
			rows = append(rows, i)
		}
	}
	return rows
}

func selectRows(m *mat.Dense, keep []bool) *mat.Dense {
	r, c := m.Dims()
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	out := mat.NewDense(n, c, nil)
	row := 0
	for i := 0; i < r; i++ {
		if !keep[i] {
			continue
		}
		out.SetRow(row, m.RawRowView(i))
		row++
	}
	return out
}

func selectColumns(m *mat.Dense, keep []bool) *mat.Dense {
	r, c := m.Dims()
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	out := mat.NewDense(r, n, nil)
	for i := 0; i < r; i++ {
		col := 0
		for j := 0; j < c; j++ {
			if !keep[j] {
				continue
			}
			out.Set(i, col, m.At(i, j))
			col++
		}
	}
	return out
}

func selectStrings(s []string, keep []bool) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s))
	for i, v := range s {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func selectFloats(s []float64, keep []bool) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, 0, len(s))
	for i, v := range s {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func selectInts(s []int, keep []bool) []int {
	if s == nil {
		return nil
	}
	out := make([]int, 0, len(s))
	for i, v := range s {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func selectBools(s []bool, keep []bool) []bool {
	if s == nil {
		return nil
	}
	out := make([]bool, 0, len(s))
	for i, v := range s {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}
