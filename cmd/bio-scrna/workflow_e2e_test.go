package main

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/singlecell/encoding/counts"
	"github.com/grailbio/singlecell/experiment"
)

// testParseOpts shrinks the metadata block so fixtures stay readable.
var testParseOpts = counts.Opts{MetadataRows: 2, SkipRows: 1, CellIDField: "cell_id"}

// writeCountFile renders one input in the dataset layout: a transposed
// metadata block, one filler row, then feature-by-cell counts.
func writeCountFile(t *testing.T, path string, features, cells []string, rows [][]float64) {
	var b strings.Builder
	b.WriteString("\ttissue")
	for range cells {
		b.WriteString("\tcortex")
	}
	b.WriteString("\n\tcell_id")
	for _, c := range cells {
		b.WriteString("\t" + c)
	}
	b.WriteString("\nfiller\n")
	for i, f := range features {
		b.WriteString(f + "\t-")
		for _, v := range rows[i] {
			fmt.Fprintf(&b, "\t%g", v)
		}
		b.WriteString("\n")
	}
	require.NoError(t, ioutil.WriteFile(path, []byte(b.String()), 0644))
}

func reversed(s []string) []string {
	r := make([]string, len(s))
	for i, v := range s {
		r[len(s)-1-i] = v
	}
	return r
}

func TestLoadAndAssembleSmall(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "scrna")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir) // nolint: errcheck

	cells := []string{"c1", "c2", "c3", "c4"}
	flags := workflowFlags{
		endoPath:  filepath.Join(tmpDir, "endo.tsv"),
		mitoPath:  filepath.Join(tmpDir, "mito.tsv"),
		spikePath: filepath.Join(tmpDir, "spike.tsv"),
	}
	writeCountFile(t, flags.endoPath,
		[]string{"GeneA_loc1", "GeneA_loc2", "GeneB", "GeneC"}, cells,
		[][]float64{
			{1, 2, 3, 4},
			{10, 20, 30, 40},
			{5, 5, 5, 5},
			{0, 1, 0, 1},
		})
	// The mitochondrial file lists the same cells in reverse order; the
	// loader must realign its columns to the endogenous order.
	writeCountFile(t, flags.mitoPath,
		[]string{"mt-Nd1", "mt-Co1", "mt-Cytb"}, reversed(cells),
		[][]float64{
			{4, 3, 2, 1},
			{8, 6, 4, 2},
			{1, 1, 1, 1},
		})
	writeCountFile(t, flags.spikePath,
		[]string{"ERCC-1", "ERCC-2", "ERCC-3"}, cells,
		[][]float64{
			{7, 7, 7, 7},
			{2, 4, 6, 8},
			{9, 9, 9, 9},
		})

	opts := defaultWorkflowOpts()
	opts.parse = testParseOpts
	e, err := loadAndAssemble(flags, opts)
	require.NoError(t, err)

	expect.EQ(t, e.NFeatures(), 9) // 3 collapsed endo + 3 mito + 3 spike
	expect.EQ(t, e.NCells(), 4)
	expect.EQ(t, e.Cells, cells)
	expect.EQ(t, e.Features, []string{
		"GeneA", "GeneB", "GeneC",
		"mt-Nd1", "mt-Co1", "mt-Cytb",
		"ERCC-1", "ERCC-2", "ERCC-3",
	})
	expect.EQ(t, e.IsMito, []bool{false, false, false, true, true, true, false, false, false})
	expect.EQ(t, e.IsSpike, []bool{false, false, false, false, false, false, true, true, true})

	// GeneA_loc1 + GeneA_loc2 summed.
	expect.EQ(t, e.Counts.RawRowView(0), []float64{11, 22, 33, 44})
	// Mito rows back in endogenous cell order.
	expect.EQ(t, e.Counts.RawRowView(3), []float64{1, 2, 3, 4})
	expect.EQ(t, e.Counts.RawRowView(4), []float64{2, 4, 6, 8})
}

func TestLoadAndAssembleMisaligned(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "scrna")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir) // nolint: errcheck

	cells := []string{"c1", "c2", "c3", "c4"}
	flags := workflowFlags{
		endoPath:  filepath.Join(tmpDir, "endo.tsv"),
		mitoPath:  filepath.Join(tmpDir, "mito.tsv"),
		spikePath: filepath.Join(tmpDir, "spike.tsv"),
	}
	one := [][]float64{{1, 2, 3, 4}}
	writeCountFile(t, flags.endoPath, []string{"GeneA"}, cells, one)
	writeCountFile(t, flags.mitoPath, []string{"mt-Nd1"}, cells, one)
	// The spike file names a cell the endogenous table has never seen.
	writeCountFile(t, flags.spikePath, []string{"ERCC-1"},
		[]string{"c1", "c2", "cX", "c4"}, one)

	opts := defaultWorkflowOpts()
	opts.parse = testParseOpts
	_, err = loadAndAssemble(flags, opts)
	require.Error(t, err)
	require.IsType(t, &experiment.MisalignmentError{}, err)
}

// synthesizeInputs writes three count tables holding two well-separated
// cell populations, and returns the populated flags.
func synthesizeInputs(t *testing.T, tmpDir string, nCells int) workflowFlags {
	rng := rand.New(rand.NewSource(42))
	cells := make([]string, nCells)
	for j := range cells {
		cells[j] = fmt.Sprintf("cell%03d", j)
	}
	pop := func(j int) int { return j * 2 / nCells }

	const nGenes = 30
	endoFeatures := make([]string, nGenes)
	endoRows := make([][]float64, nGenes)
	for i := 0; i < nGenes; i++ {
		endoFeatures[i] = fmt.Sprintf("Gene%02d", i)
		row := make([]float64, nCells)
		for j := range row {
			v := float64(rng.Intn(3))
			// Genes 0-9 mark population 0, genes 10-19 population 1.
			if (i < 10 && pop(j) == 0) || (i >= 10 && i < 20 && pop(j) == 1) {
				v += float64(20 + rng.Intn(10))
			}
			row[j] = v
		}
		endoRows[i] = row
	}

	mitoFeatures := []string{"mt-Nd1", "mt-Co1", "mt-Cytb"}
	mitoRows := make([][]float64, len(mitoFeatures))
	for i := range mitoRows {
		row := make([]float64, nCells)
		for j := range row {
			row[j] = float64(rng.Intn(3))
		}
		mitoRows[i] = row
	}

	const nSpikes = 10
	spikeFeatures := make([]string, nSpikes)
	spikeRows := make([][]float64, nSpikes)
	for i := 0; i < nSpikes; i++ {
		spikeFeatures[i] = fmt.Sprintf("ERCC-%02d", i)
		row := make([]float64, nCells)
		for j := range row {
			row[j] = float64(30 + rng.Intn(20))
		}
		spikeRows[i] = row
	}

	flags := workflowFlags{
		endoPath:       filepath.Join(tmpDir, "endo.tsv"),
		mitoPath:       filepath.Join(tmpDir, "mito.tsv"),
		spikePath:      filepath.Join(tmpDir, "spike.tsv"),
		outDir:         filepath.Join(tmpDir, "out"),
		heatmapCluster: -1,
	}
	writeCountFile(t, flags.endoPath, endoFeatures, cells, endoRows)
	// Reversed cell order exercises realignment on the full run too.
	mitoRev := make([][]float64, len(mitoRows))
	for i, row := range mitoRows {
		rev := make([]float64, nCells)
		for j, v := range row {
			rev[nCells-1-j] = v
		}
		mitoRev[i] = rev
	}
	writeCountFile(t, flags.mitoPath, mitoFeatures, reversed(cells), mitoRev)
	writeCountFile(t, flags.spikePath, spikeFeatures, cells, spikeRows)
	require.NoError(t, os.Mkdir(flags.outDir, 0755))
	return flags
}

func TestWorkflowEndToEnd(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "scrna")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir) // nolint: errcheck

	const nCells = 120
	flags := synthesizeInputs(t, tmpDir, nCells)
	opts := defaultWorkflowOpts()
	opts.parse = testParseOpts
	opts.reduce.Perplexity = 10
	opts.reduce.TSNEIter = 250

	ctx := vcontext.Background()
	res, err := runWorkflow(ctx, flags, opts)
	require.NoError(t, err)

	e := res.Experiment
	expect.EQ(t, e.NCells(), nCells-res.Outliers.NDrop)
	// The two planted populations must not end up merged.
	expect.GE(t, res.Clusters.NClusters(), 2)
	expect.EQ(t, len(res.Markers), res.Clusters.NClusters())

	// The strongest marker of the largest cluster is one of the planted
	// population markers.
	top := res.Markers[0].Markers[0]
	expect.EQ(t, top.Top, 1)
	name := e.Features[top.Feature]
	require.Regexp(t, `^Gene[01][0-9]$`, name)

	heat, err := ioutil.ReadFile(filepath.Join(flags.outDir, "markers-cluster0.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(heat)), "\n")
	expect.GE(t, len(lines), 3) // gene header, cluster header, >=1 marker
	expect.True(t, strings.HasPrefix(lines[0], "gene\t"))
	expect.True(t, strings.HasPrefix(lines[1], "cluster\t"))

	tsne, err := ioutil.ReadFile(filepath.Join(flags.outDir, "tsne.tsv"))
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(string(tsne)), "\n")
	expect.EQ(t, len(lines), e.NCells()+1)
	expect.EQ(t, lines[0], "cell\tcluster\ttsne1\ttsne2")
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}
