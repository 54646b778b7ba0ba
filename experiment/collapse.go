package experiment

import (
	"regexp"

	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/encoding/counts"
)

// The dataset splits some genes across genomic-location rows named
// "<gene>_loc1", "<gene>_loc2", ... This suffix convention is specific to
// that release; it is not a general gene-naming contract.
var locSuffixRE = regexp.MustCompile(`_loc[0-9]+$`)

// BaseFeature strips a trailing _locNNN suffix from a feature name.
func BaseFeature(name string) string {
	return locSuffixRE.ReplaceAllString(name, "")
}

// Collapse sums the count rows of src that share a base feature name into a
// single row per base name, preserving first-seen row order. Input with no
// duplicate base names is returned unchanged (a fresh matrix with identical
// values).
func Collapse(src *counts.Source) {
	_, nCells := src.Counts.Dims()
	index := make(map[string]int, len(src.Features))
	var names []string
	var rows [][]float64
	for i, name := range src.Features {
		base := BaseFeature(name)
		at, ok := index[base]
		if !ok {
			at = len(names)
			index[base] = at
			names = append(names, base)
			rows = append(rows, make([]float64, nCells))
		}
		row := rows[at]
		for j := 0; j < nCells; j++ {
			row[j] += src.Counts.At(i, j)
		}
	}

	out := mat.NewDense(len(names), nCells, nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	src.Features = names
	src.Counts = out
}
