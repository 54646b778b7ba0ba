// Package report renders the pipeline's console summaries and the marker
// heatmap matrix. Output is delimited text; plot rasterization is out of
// scope.
package report

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/cluster"
	"github.com/grailbio/singlecell/experiment"
	"github.com/grailbio/singlecell/markers"
	"github.com/grailbio/singlecell/qc"
)

// HeatmapOpts configures marker heatmap construction.
type HeatmapOpts struct {
	// TopRank selects marker genes with Top <= TopRank.
	TopRank int
	// Clip bounds the centered display values at +-Clip.
	Clip float64
}

// DefaultHeatmapOpts matches the workflow display: Top 10 markers, values
// clipped to +-5.
var DefaultHeatmapOpts = HeatmapOpts{TopRank: 10, Clip: 5}

// Heatmap is a marker-by-cell display matrix: cells ordered by cluster,
// per-gene centered log expression, symmetric-clipped.
type Heatmap struct {
	Features []string
	Cells    []string
	Clusters []int // per ordered cell
	Values   *mat.Dense
}

// BuildHeatmap assembles the heatmap for one target cluster's marker table.
//
// REQUIRES: e.LogExprs and e.Clusters are set.
func BuildHeatmap(e *experiment.Experiment, table *markers.Table, opts HeatmapOpts) (*Heatmap, error) {
	if e.LogExprs == nil || e.Clusters == nil {
		return nil, fmt.Errorf("report: normalization and clustering must run before the heatmap")
	}
	rows := table.Select(opts.TopRank)
	if len(rows) == 0 {
		return nil, fmt.Errorf("report: cluster %d has no markers with Top <= %d", table.Cluster, opts.TopRank)
	}
	nCells := e.NCells()

	order := make([]int, nCells)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return e.Clusters[order[a]] < e.Clusters[order[b]]
	})

	h := &Heatmap{
		Features: make([]string, len(rows)),
		Cells:    make([]string, nCells),
		Clusters: make([]int, nCells),
		Values:   mat.NewDense(len(rows), nCells, nil),
	}
	for x, j := range order {
		h.Cells[x] = e.Cells[j]
		h.Clusters[x] = e.Clusters[j]
	}
	for x, i := range rows {
		h.Features[x] = e.Features[i]
		row := e.LogExprs.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(nCells)
		for y, j := range order {
			v := row[j] - mean
			if v > opts.Clip {
				v = opts.Clip
			}
			if v < -opts.Clip {
				v = -opts.Clip
			}
			h.Values.Set(x, y, v)
		}
	}
	return h, nil
}

// WriteTSV writes the heatmap as a delimited table, one marker gene per
// row; the header rows carry the ordered cell ids and cluster labels.
func (h *Heatmap) WriteTSV(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "gene"); err != nil {
		return err
	}
	for _, id := range h.Cells {
		if _, err := fmt.Fprintf(w, "\t%s", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "\ncluster"); err != nil {
		return err
	}
	for _, c := range h.Clusters {
		if _, err := fmt.Fprintf(w, "\t%d", c); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for x, name := range h.Features {
		if _, err := fmt.Fprintf(w, "%s", name); err != nil {
			return err
		}
		for y := range h.Cells {
			if _, err := fmt.Fprintf(w, "\t%.4f", h.Values.At(x, y)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// WriteOutlierSummary reports per-criterion and total removed cell counts.
func WriteOutlierSummary(w io.Writer, out qc.Outliers) error {
	_, err := fmt.Fprintf(w,
		"QC outliers: by library size %d, by feature count %d, by spike proportion %d, removed (any) %d\n",
		out.NLowLibSize, out.NLowNExprs, out.NHighSpike, out.NDrop)
	return err
}

// WriteClusterSummary reports cluster sizes and the partition modularity.
func WriteClusterSummary(w io.Writer, res *cluster.Result) error {
	if _, err := fmt.Fprintf(w, "clusters: %d (modularity %.3f)\n", res.NClusters(), res.Modularity); err != nil {
		return err
	}
	for c, size := range res.Sizes {
		if _, err := fmt.Fprintf(w, "  cluster %d: %d cells\n", c, size); err != nil {
			return err
		}
	}
	return nil
}

// WriteMarkerHead prints the first n rows of a marker table.
func WriteMarkerHead(w io.Writer, e *experiment.Experiment, table *markers.Table, n int) error {
	if _, err := fmt.Fprintf(w, "top markers for cluster %d:\n", table.Cluster); err != nil {
		return err
	}
	if n > len(table.Markers) {
		n = len(table.Markers)
	}
	for _, m := range table.Markers[:n] {
		if _, err := fmt.Fprintf(w, "  %-12s Top=%-3d p=%.3e FDR=%.3e\n",
			e.Features[m.Feature], m.Top, m.P, m.FDR); err != nil {
			return err
		}
	}
	return nil
}
