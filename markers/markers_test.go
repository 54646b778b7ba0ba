package markers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestWelchUpP(t *testing.T) {
	// Clearly up-regulated.
	p := welchUpP(10, 1, 50, 0, 1, 50)
	expect.LT(t, p, 1e-6)
	// Clearly down-regulated.
	p = welchUpP(0, 1, 50, 10, 1, 50)
	expect.GT(t, p, 1-1e-6)
	// No difference.
	p = welchUpP(5, 1, 50, 5, 1, 50)
	expect.LT(t, math.Abs(p-0.5), 1e-9)
	// Degenerate zero-variance groups.
	expect.EQ(t, welchUpP(2, 0, 10, 1, 0, 10), 0.0)
	expect.EQ(t, welchUpP(1, 0, 10, 2, 0, 10), 1.0)
	expect.EQ(t, welchUpP(1, 0, 10, 1, 0, 10), 0.5)
}

func TestSimes(t *testing.T) {
	expect.EQ(t, simes([]float64{0.01}), 0.01)
	// min(0.01*3/1, 0.02*3/2, 0.9*3/3) = 0.03.
	expect.LT(t, math.Abs(simes([]float64{0.9, 0.01, 0.02})-0.03), 1e-12)
}

func TestBenjaminiHochberg(t *testing.T) {
	adj := benjaminiHochberg([]float64{0.01, 0.04, 0.03, 0.005})
	// Sorted: 0.005, 0.01, 0.03, 0.04 -> 0.02, 0.02, 0.04, 0.04.
	expect.LT(t, math.Abs(adj[3]-0.02), 1e-12)
	expect.LT(t, math.Abs(adj[0]-0.02), 1e-12)
	expect.LT(t, math.Abs(adj[2]-0.04), 1e-12)
	expect.LT(t, math.Abs(adj[1]-0.04), 1e-12)
}

// markerMatrix builds three clusters of 20 cells. Gene 0 is up only in
// cluster 0; gene 1 is up in clusters 0 and 1; remaining genes are noise.
func markerMatrix() (*mat.Dense, []int) {
	const perCluster, nGenes = 20, 10
	rng := rand.New(rand.NewSource(9))
	nCells := 3 * perCluster
	labels := make([]int, nCells)
	m := mat.NewDense(nGenes, nCells, nil)
	for j := 0; j < nCells; j++ {
		c := j / perCluster
		labels[j] = c
		for i := 0; i < nGenes; i++ {
			v := rng.NormFloat64() * 0.3
			if i == 0 && c == 0 {
				v += 5
			}
			if i == 1 && c <= 1 {
				v += 5
			}
			m.Set(i, j, v)
		}
	}
	return m, labels
}

func TestDetect(t *testing.T) {
	m, labels := markerMatrix()
	tables, err := Detect(m, labels, nil, DefaultOpts)
	require.NoError(t, err)
	require.Len(t, tables, 3)

	t0 := tables[0]
	expect.EQ(t, t0.Cluster, 0)
	// Gene 0 beats every other cluster: Top rank 1.
	expect.EQ(t, t0.Markers[0].Feature, 0)
	expect.EQ(t, t0.Markers[0].Top, 1)
	expect.LT(t, t0.Markers[0].P, 1e-6)
	expect.LT(t, t0.Markers[0].FDR, 1e-6)
	// Up against both other clusters.
	expect.GT(t, t0.Markers[0].LogFC[1], 4.0)
	expect.GT(t, t0.Markers[0].LogFC[2], 4.0)

	// Gene 1 is up only against cluster 2 but that one comparison is
	// enough for a strong Top rank.
	var g1 Marker
	for _, mk := range t0.Markers {
		if mk.Feature == 1 {
			g1 = mk
		}
	}
	expect.LE(t, g1.Top, 2)
	expect.GT(t, g1.LogFC[2], 4.0)
	expect.LT(t, math.Abs(g1.LogFC[1]), 1.0)

	// Select with a generous rank returns gene 0 first.
	sel := t0.Select(1)
	expect.EQ(t, sel[0], 0)
}

func TestDetectRowSubset(t *testing.T) {
	m, labels := markerMatrix()
	tables, err := Detect(m, labels, []int{1, 2, 3}, DefaultOpts)
	require.NoError(t, err)
	for _, mk := range tables[0].Markers {
		expect.GE(t, mk.Feature, 1)
		expect.LE(t, mk.Feature, 3)
	}
}

func TestDetectErrors(t *testing.T) {
	m, labels := markerMatrix()
	_, err := Detect(m, labels[:10], nil, DefaultOpts)
	require.Error(t, err)

	one := make([]int, len(labels))
	_, err = Detect(m, one, nil, DefaultOpts)
	require.Error(t, err)

	tiny := append([]int(nil), labels...)
	tiny[0] = 3 // cluster 3 has a single cell
	_, err = Detect(m, tiny, nil, DefaultOpts)
	require.Error(t, err)
}
