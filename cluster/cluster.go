// Package cluster partitions cells into groups by building a shared
// nearest-neighbour graph over the PCA embedding and maximizing its
// modularity.
package cluster

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/experiment"
)

// Opts configures graph construction and partitioning.
type Opts struct {
	// K is the number of nearest neighbours per cell.
	K int
	// Resolution is the modularity resolution parameter.
	Resolution float64
	// Seed drives the community search.
	Seed uint64
}

// DefaultOpts matches the workflow's neighbourhood size.
var DefaultOpts = Opts{K: 10, Resolution: 1, Seed: 100}

// Result is a clustering of cells.
type Result struct {
	// Labels maps each cell to a cluster, labelled 0..NClusters-1 in
	// decreasing size order.
	Labels []int
	// Sizes is the number of cells per cluster.
	Sizes []int
	// Modularity is the partition quality score of the SNN graph.
	Modularity float64
	// Ratio is the cluster-by-cluster (observed+1)/(expected+1) edge weight
	// ratio. Display only; high diagonal values indicate well-separated
	// clusters.
	Ratio *mat.Dense
}

// NClusters returns the number of clusters.
func (r *Result) NClusters() int { return len(r.Sizes) }

// Run clusters the cells of e on its PCA embedding and stores the labels on
// e.Clusters.
//
// REQUIRES: e.PCs is set.
func Run(e *experiment.Experiment, opts Opts) (*Result, error) {
	if e.PCs == nil {
		return nil, fmt.Errorf("cluster: PCA not computed")
	}
	nCells, _ := e.PCs.Dims()
	if nCells <= opts.K {
		return nil, fmt.Errorf("cluster: %d cells too few for %d neighbours", nCells, opts.K)
	}

	neighbors := nearestNeighbors(e.PCs, opts.K)
	g := snnGraph(neighbors, opts.K)

	reduced := community.Modularize(g, opts.Resolution, rand.NewSource(opts.Seed))
	comms := reduced.Communities()

	res := labelCommunities(comms, nCells)
	res.Modularity = community.Q(g, comms, opts.Resolution)
	res.Ratio = modularityRatio(g, res.Labels, len(res.Sizes))
	e.Clusters = res.Labels
	return res, nil
}

// snnGraph connects cells whose neighbour sets overlap, weighting each edge
// by the fraction of shared neighbours. Each cell belongs to its own
// neighbour set so that mutual nearest neighbours always share at least two.
func snnGraph(neighbors [][]int, k int) *simple.WeightedUndirectedGraph {
	n := len(neighbors)
	// owners[c] lists the cells that have c in their neighbour set.
	owners := make([][]int, n)
	for i, set := range neighbors {
		owners[i] = append(owners[i], i)
		for _, j := range set {
			owners[j] = append(owners[j], i)
		}
	}

	type edge struct{ a, b int }
	shared := map[edge]int{}
	for _, own := range owners {
		for x := 0; x < len(own); x++ {
			for y := x + 1; y < len(own); y++ {
				a, b := own[x], own[y]
				if a > b {
					a, b = b, a
				}
				if a != b {
					shared[edge{a, b}]++
				}
			}
		}
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for e, s := range shared {
		w := float64(s) / float64(k+1)
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(e.a), simple.Node(e.b), w))
	}
	return g
}

// labelCommunities assigns labels in decreasing community size order so that
// cluster 0 is always the largest.
func labelCommunities(comms [][]graph.Node, nCells int) *Result {
	order := make([]int, len(comms))
	for i := range order {
		order[i] = i
	}
	sortBySizeDesc(comms, order)

	res := &Result{
		Labels: make([]int, nCells),
		Sizes:  make([]int, len(comms)),
	}
	for label, ci := range order {
		res.Sizes[label] = len(comms[ci])
		for _, node := range comms[ci] {
			res.Labels[int(node.ID())] = label
		}
	}
	return res
}

func sortBySizeDesc(comms [][]graph.Node, order []int) {
	// Tie-break on the smallest member ID for determinism.
	minID := func(c []graph.Node) int64 {
		m := c[0].ID()
		for _, n := range c[1:] {
			if n.ID() < m {
				m = n.ID()
			}
		}
		return m
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if len(comms[b]) > len(comms[a]) ||
				(len(comms[b]) == len(comms[a]) && minID(comms[b]) < minID(comms[a])) {
				order[j-1], order[j] = b, a
			} else {
				break
			}
		}
	}
}

// modularityRatio compares observed between-cluster edge weight to its
// degree-based expectation.
func modularityRatio(g *simple.WeightedUndirectedGraph, labels []int, nClusters int) *mat.Dense {
	obs := mat.NewDense(nClusters, nClusters, nil)
	deg := make([]float64, nClusters)
	total := 0.0

	edges := g.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge()
		a := labels[int(e.From().ID())]
		b := labels[int(e.To().ID())]
		w := e.Weight()
		total += w
		deg[a] += w
		deg[b] += w
		obs.Set(a, b, obs.At(a, b)+w)
		if a != b {
			obs.Set(b, a, obs.At(b, a)+w)
		}
	}

	ratio := mat.NewDense(nClusters, nClusters, nil)
	for a := 0; a < nClusters; a++ {
		for b := 0; b < nClusters; b++ {
			exp := deg[a] * deg[b] / (4 * total)
			ratio.Set(a, b, (obs.At(a, b)+1)/(exp+1))
		}
	}
	return ratio
}
