package cluster

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/grailbio/singlecell/experiment"
)

// blobs builds an experiment whose PCs hold well-separated point clouds of
// the given sizes.
func blobs(sizes ...int) *experiment.Experiment {
	rng := rand.New(rand.NewSource(5))
	n := 0
	for _, s := range sizes {
		n += s
	}
	pcs := mat.NewDense(n, 3, nil)
	row := 0
	for b, s := range sizes {
		for i := 0; i < s; i++ {
			for d := 0; d < 3; d++ {
				pcs.Set(row, d, 20*float64(b)+rng.NormFloat64())
			}
			row++
		}
	}
	return &experiment.Experiment{
		Counts: mat.NewDense(1, n, nil),
		Cells:  make([]string, n),
		PCs:    pcs,
	}
}

func TestNearestNeighbors(t *testing.T) {
	pcs := mat.NewDense(4, 2, []float64{
		0, 0,
		0, 1,
		0, 2,
		100, 100,
	})
	nn := nearestNeighbors(pcs, 2)
	expect.EQ(t, nn[0], []int{1, 2})
	// Cell 1 is equidistant from 0 and 2; both must appear.
	expect.True(t, (nn[1][0] == 0 && nn[1][1] == 2) || (nn[1][0] == 2 && nn[1][1] == 0))
	expect.EQ(t, nn[2], []int{1, 0})
	expect.EQ(t, nn[3][0], 2)
	for i := range nn {
		expect.EQ(t, len(nn[i]), 2)
	}
}

func TestRunFindsBlobs(t *testing.T) {
	e := blobs(40, 30)
	res, err := Run(e, DefaultOpts)
	require.NoError(t, err)

	expect.EQ(t, res.NClusters(), 2)
	expect.EQ(t, res.Sizes, []int{40, 30})
	expect.EQ(t, e.Clusters, res.Labels)
	// All members of one blob share a label.
	for i := 1; i < 40; i++ {
		expect.EQ(t, res.Labels[i], res.Labels[0])
	}
	for i := 41; i < 70; i++ {
		expect.EQ(t, res.Labels[i], res.Labels[40])
	}
	expect.NEQ(t, res.Labels[0], res.Labels[40])
	expect.GT(t, res.Modularity, 0.0)

	// Separated blobs: within-cluster weight far above expectation.
	r, c := res.Ratio.Dims()
	expect.EQ(t, r, 2)
	expect.EQ(t, c, 2)
	expect.GT(t, res.Ratio.At(0, 0), res.Ratio.At(0, 1))
	expect.GT(t, res.Ratio.At(1, 1), res.Ratio.At(1, 0))
}

func TestRunDeterministic(t *testing.T) {
	a, err := Run(blobs(25, 25, 20), DefaultOpts)
	require.NoError(t, err)
	b, err := Run(blobs(25, 25, 20), DefaultOpts)
	require.NoError(t, err)
	expect.EQ(t, a.Labels, b.Labels)
}

func TestRunTooFewCells(t *testing.T) {
	_, err := Run(blobs(5), DefaultOpts)
	require.Error(t, err)
}

func TestRunRequiresPCs(t *testing.T) {
	e := blobs(20)
	e.PCs = nil
	_, err := Run(e, DefaultOpts)
	require.Error(t, err)
}
