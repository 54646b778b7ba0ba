package cluster

import (
	"sort"

	"github.com/biogo/store/kdtree"
	"gonum.org/v1/gonum/mat"
)

// nearestNeighbors returns, for each row of pcs, the indices of its k
// nearest other rows by Euclidean distance, found through a kd-tree.
func nearestNeighbors(pcs *mat.Dense, k int) [][]int {
	n, _ := pcs.Dims()
	vecs := make(cellVecs, n)
	for i := 0; i < n; i++ {
		vecs[i] = cellVec{idx: i, coords: pcs.RawRowView(i)}
	}
	tree := kdtree.New(vecs, false)

	out := make([][]int, n)
	for i := 0; i < n; i++ {
		keeper := kdtree.NewNKeeper(k + 1) // +1: the query finds itself
		tree.NearestSet(keeper, vecs[i])
		type nbr struct {
			idx  int
			dist float64
		}
		var nbrs []nbr
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			c := cd.Comparable.(cellVec)
			if c.idx == i {
				continue
			}
			nbrs = append(nbrs, nbr{c.idx, cd.Dist})
		}
		sort.Slice(nbrs, func(a, b int) bool { return nbrs[a].dist < nbrs[b].dist })
		if len(nbrs) > k {
			nbrs = nbrs[:k]
		}
		ids := make([]int, len(nbrs))
		for x, nb := range nbrs {
			ids[x] = nb.idx
		}
		out[i] = ids
	}
	return out
}

// cellVec adapts one embedded cell to the kd-tree interfaces.
type cellVec struct {
	idx    int
	coords []float64
}

func (c cellVec) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	return c.coords[d] - o.(cellVec).coords[d]
}

func (c cellVec) Dims() int { return len(c.coords) }

func (c cellVec) Distance(o kdtree.Comparable) float64 {
	q := o.(cellVec)
	s := 0.0
	for i, v := range c.coords {
		d := v - q.coords[i]
		s += d * d
	}
	return s
}

type cellVecs []cellVec

func (p cellVecs) Index(i int) kdtree.Comparable         { return p[i] }
func (p cellVecs) Len() int                              { return len(p) }
func (p cellVecs) Pivot(d kdtree.Dim) int                { return plane{Dim: d, cellVecs: p}.Pivot() }
func (p cellVecs) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	cellVecs
}

func (p plane) Less(i, j int) bool {
	return p.cellVecs[i].coords[p.Dim] < p.cellVecs[j].coords[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.cellVecs = p.cellVecs[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.cellVecs[i], p.cellVecs[j] = p.cellVecs[j], p.cellVecs[i]
}
