// Package markers ranks genes that are up-regulated in each cluster
// relative to every other cluster.
//
// Detection is a pure function from log expression and cluster labels to
// ranked tables: each cluster/other-cluster pair gets a one-sided Welch
// t-test per gene, genes are ranked within each pairwise comparison, and a
// gene's Top rank is its best rank across comparisons. Selecting Top <= N
// yields a marker set of roughly N genes per comparison.
package markers

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Opts configures marker detection.
type Opts struct {
	// MinCells is the minimum cluster size for testing.
	MinCells int
}

// DefaultOpts requires two cells per cluster, the Welch minimum.
var DefaultOpts = Opts{MinCells: 2}

// Marker is one gene's evidence for one target cluster.
type Marker struct {
	// Feature is the matrix row index.
	Feature int
	// Top is the best (smallest) rank across pairwise comparisons.
	Top int
	// P is the Simes-combined p-value across comparisons, FDR its
	// Benjamini-Hochberg adjustment across genes.
	P, FDR float64
	// LogFC[c] is the log2 fold change against cluster c; the entry for the
	// target cluster itself is 0. The signs summarize the direction of each
	// pairwise effect.
	LogFC []float64
}

// Table is the ranked marker table for one target cluster.
type Table struct {
	Cluster int
	Markers []Marker // sorted by Top, then P
}

// Select returns the features with Top <= n.
func (t *Table) Select(n int) []int {
	var rows []int
	for _, m := range t.Markers {
		if m.Top <= n {
			rows = append(rows, m.Feature)
		}
	}
	return rows
}

// Detect tests every gene in every cluster against every other cluster and
// returns one ranked table per cluster. rows restricts testing to the given
// matrix rows (nil means all).
func Detect(logExprs *mat.Dense, labels []int, rows []int, opts Opts) ([]*Table, error) {
	nGenes, nCells := logExprs.Dims()
	if len(labels) != nCells {
		return nil, fmt.Errorf("markers: %d labels for %d cells", len(labels), nCells)
	}
	if rows == nil {
		rows = make([]int, nGenes)
		for i := range rows {
			rows[i] = i
		}
	}
	nClusters := 0
	for _, l := range labels {
		if l+1 > nClusters {
			nClusters = l + 1
		}
	}
	if nClusters < 2 {
		return nil, fmt.Errorf("markers: need >=2 clusters, got %d", nClusters)
	}

	stats := clusterStats(logExprs, labels, rows, nClusters)
	for c := 0; c < nClusters; c++ {
		if stats[c].n < opts.MinCells {
			return nil, fmt.Errorf("markers: cluster %d has %d cells, need >=%d", c, stats[c].n, opts.MinCells)
		}
	}

	tables := make([]*Table, nClusters)
	for target := 0; target < nClusters; target++ {
		tables[target] = detectOne(target, nClusters, rows, stats)
	}
	return tables, nil
}

// momentSet holds per-gene moments for one cluster, indexed like rows.
type momentSet struct {
	n          int
	mean, vari []float64
}

func clusterStats(logExprs *mat.Dense, labels []int, rows []int, nClusters int) []momentSet {
	stats := make([]momentSet, nClusters)
	cols := make([][]int, nClusters)
	for j, l := range labels {
		cols[l] = append(cols[l], j)
	}
	buf := make([]float64, 0, len(labels))
	for c := 0; c < nClusters; c++ {
		stats[c] = momentSet{
			n:    len(cols[c]),
			mean: make([]float64, len(rows)),
			vari: make([]float64, len(rows)),
		}
		for x, i := range rows {
			buf = buf[:0]
			for _, j := range cols[c] {
				buf = append(buf, logExprs.At(i, j))
			}
			stats[c].mean[x], stats[c].vari[x] = stat.MeanVariance(buf, nil)
		}
	}
	return stats
}

func detectOne(target, nClusters int, rows []int, stats []momentSet) *Table {
	nGenes := len(rows)
	top := make([]int, nGenes)
	pvals := make([][]float64, nGenes) // per gene, per comparison
	logFC := make([][]float64, nGenes)
	for x := range top {
		top[x] = nGenes + 1
		logFC[x] = make([]float64, nClusters)
	}

	order := make([]int, nGenes)
	for other := 0; other < nClusters; other++ {
		if other == target {
			continue
		}
		ps := make([]float64, nGenes)
		for x := range rows {
			fc := stats[target].mean[x] - stats[other].mean[x]
			logFC[x][other] = fc
			ps[x] = welchUpP(
				stats[target].mean[x], stats[target].vari[x], stats[target].n,
				stats[other].mean[x], stats[other].vari[x], stats[other].n)
			pvals[x] = append(pvals[x], ps[x])
		}

		for x := range order {
			order[x] = x
		}
		sort.SliceStable(order, func(a, b int) bool {
			if ps[order[a]] != ps[order[b]] {
				return ps[order[a]] < ps[order[b]]
			}
			return logFC[order[a]][other] > logFC[order[b]][other]
		})
		for rank, x := range order {
			if rank+1 < top[x] {
				top[x] = rank + 1
			}
		}
	}

	table := &Table{Cluster: target, Markers: make([]Marker, nGenes)}
	combined := make([]float64, nGenes)
	for x := range rows {
		combined[x] = simes(pvals[x])
		table.Markers[x] = Marker{
			Feature: rows[x],
			Top:     top[x],
			P:       combined[x],
			LogFC:   logFC[x],
		}
	}
	fdr := benjaminiHochberg(combined)
	for x := range table.Markers {
		table.Markers[x].FDR = fdr[x]
	}
	sort.SliceStable(table.Markers, func(a, b int) bool {
		if table.Markers[a].Top != table.Markers[b].Top {
			return table.Markers[a].Top < table.Markers[b].Top
		}
		return table.Markers[a].P < table.Markers[b].P
	})
	return table
}

// simes combines pairwise p-values into one per-gene p-value.
func simes(ps []float64) float64 {
	s := append([]float64(nil), ps...)
	sort.Float64s(s)
	m := float64(len(s))
	min := 1.0
	for i, p := range s {
		if v := p * m / float64(i+1); v < min {
			min = v
		}
	}
	return min
}

// benjaminiHochberg adjusts p-values to false discovery rates.
func benjaminiHochberg(ps []float64) []float64 {
	n := len(ps)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	adj := make([]float64, n)
	min := 1.0
	for i := n - 1; i >= 0; i-- {
		v := ps[order[i]] * float64(n) / float64(i+1)
		if v < min {
			min = v
		}
		adj[order[i]] = min
	}
	return adj
}
