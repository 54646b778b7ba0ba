// Package reduce projects denoised log expression into low-dimensional
// embeddings: a PCA embedding whose rank is chosen from the technical
// variance estimate, and a 2-D t-SNE embedding for visualization.
package reduce

import (
	"fmt"
	"math/rand"

	"github.com/danaugrs/go-tsne/tsne"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/grailbio/singlecell/experiment"
	"github.com/grailbio/singlecell/variance"
)

// Opts configures dimensionality reduction.
type Opts struct {
	// MinComponents and MaxComponents clamp the denoising rank choice.
	MinComponents, MaxComponents int
	// Perplexity, LearningRate and TSNEIter drive the t-SNE embedding.
	Perplexity   float64
	LearningRate float64
	TSNEIter     int
	// Seed makes the stochastic embedding reproducible.
	Seed int64
}

// DefaultOpts uses the workflow's perplexity of 50.
var DefaultOpts = Opts{
	MinComponents: 5,
	MaxComponents: 50,
	Perplexity:    50,
	LearningRate:  200,
	TSNEIter:      1000,
	Seed:          100,
}

// PCA computes principal components of the endogenous log expression and
// stores on e the leading components, keeping the smallest rank whose
// discarded variance fits inside the summed technical variance.
//
// REQUIRES: e.LogExprs is set.
func PCA(e *experiment.Experiment, d *variance.Decomposition, opts Opts) error {
	if e.LogExprs == nil {
		return fmt.Errorf("reduce: log expression not computed (was normalization run?)")
	}
	rows := e.EndogenousRows()
	nCells := e.NCells()

	// Observations are cells: transpose the kept rows and center them.
	x := mat.NewDense(nCells, len(rows), nil)
	for k, i := range rows {
		row := e.LogExprs.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(nCells)
		for j, v := range row {
			x.Set(j, k, v-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return fmt.Errorf("reduce: principal component decomposition failed")
	}
	vars := pc.VarsTo(nil)

	techSum := 0.0
	for _, i := range rows {
		techSum += d.Tech[i]
	}
	rank := chooseRank(vars, techSum, opts.MinComponents, opts.MaxComponents)

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	proj := mat.NewDense(nCells, rank, nil)
	proj.Mul(x, vecs.Slice(0, len(rows), 0, rank))
	e.PCs = proj
	return nil
}

// chooseRank returns the smallest rank whose discarded component variances
// sum to no more than techSum, clamped to [min, max] and the number of
// components.
func chooseRank(vars []float64, techSum float64, min, max int) int {
	rank := len(vars)
	tail := 0.0
	for i := len(vars) - 1; i >= 0; i-- {
		tail += vars[i]
		if tail > techSum {
			break
		}
		rank = i
	}
	if rank < min {
		rank = min
	}
	if rank > max {
		rank = max
	}
	if rank > len(vars) {
		rank = len(vars)
	}
	if rank < 1 {
		rank = 1
	}
	return rank
}

// TSNE computes a 2-D embedding of the PCA coordinates for plotting.
//
// REQUIRES: e.PCs is set.
func TSNE(e *experiment.Experiment, opts Opts) error {
	if e.PCs == nil {
		return fmt.Errorf("reduce: PCA not computed")
	}
	rand.Seed(opts.Seed) // the embedder draws from the global source
	t := tsne.NewTSNE(2, opts.Perplexity, opts.LearningRate, opts.TSNEIter, false)
	y := t.EmbedData(e.PCs, nil)
	out := mat.DenseCopyOf(y)
	e.TSNE = out
	return nil
}
