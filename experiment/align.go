package experiment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/encoding/counts"
)

// MisalignmentError reports a cell-identifier mismatch between two count
// sources. A mismatch is unrecoverable: continuing would silently pair
// measurements from different cells, corrupting every downstream statistic.
// Callers decide whether to abort or report.
type MisalignmentError struct {
	// Source is the source that disagrees with the endogenous one.
	Source string
	// Index is the offending cell position, or -1 when a cell identifier is
	// missing entirely.
	Index int
	// Want is the endogenous identifier, Got the identifier found in Source
	// ("" when missing).
	Want, Got string
}

func (e *MisalignmentError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("align: %s source has no cell %q", e.Source, e.Want)
	}
	return fmt.Sprintf("align: %s source cell %d: want %q, got %q", e.Source, e.Index, e.Want, e.Got)
}

// Align reorders the mito source's cells (metadata and count columns) to
// match the endogenous source's cell order, then verifies that the spike
// source's order already equals the endogenous order and that the reordered
// mito order equals it too. The spike source is never reordered; a spike
// mismatch indicates corrupt inputs, not a fixable permutation.
func Align(endo, mito, spike *counts.Source) error {
	if mito.NCells() != endo.NCells() {
		return &MisalignmentError{Source: "mito", Index: -1,
			Want: fmt.Sprintf("%d cells", endo.NCells()), Got: fmt.Sprintf("%d cells", mito.NCells())}
	}
	pos := make(map[string]int, mito.NCells())
	for j, id := range mito.Cells {
		pos[id] = j
	}
	perm := make([]int, endo.NCells())
	for i, id := range endo.Cells {
		j, ok := pos[id]
		if !ok {
			return &MisalignmentError{Source: "mito", Index: -1, Want: id}
		}
		perm[i] = j
	}

	mito.Counts = permuteColumns(mito.Counts, perm)
	mito.Metadata.Permute(perm)
	cells := make([]string, len(perm))
	for i, p := range perm {
		cells[i] = mito.Cells[p]
	}
	mito.Cells = cells

	if err := verifyOrder("spike", endo.Cells, spike.Cells); err != nil {
		return err
	}
	return verifyOrder("mito", endo.Cells, mito.Cells)
}

// verifyOrder checks that got matches want element for element.
func verifyOrder(source string, want, got []string) error {
	if len(want) != len(got) {
		return &MisalignmentError{Source: source, Index: -1,
			Want: fmt.Sprintf("%d cells", len(want)), Got: fmt.Sprintf("%d cells", len(got))}
	}
	for i := range want {
		if want[i] != got[i] {
			return &MisalignmentError{Source: source, Index: i, Want: want[i], Got: got[i]}
		}
	}
	return nil
}

func permuteColumns(m *mat.Dense, perm []int) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j, p := range perm {
			out.Set(i, j, m.At(i, p))
		}
	}
	return out
}
