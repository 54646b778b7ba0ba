package main

import (
	"context"
	"fmt"
	"os"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"

	"github.com/grailbio/singlecell/cluster"
	"github.com/grailbio/singlecell/encoding/counts"
	"github.com/grailbio/singlecell/experiment"
	"github.com/grailbio/singlecell/markers"
	"github.com/grailbio/singlecell/normalize"
	"github.com/grailbio/singlecell/qc"
	"github.com/grailbio/singlecell/reduce"
	"github.com/grailbio/singlecell/report"
	"github.com/grailbio/singlecell/variance"
)

// Collection of paths set via cmdline flags.
type workflowFlags struct {
	endoPath, mitoPath, spikePath string
	geneMapPath                   string
	outDir                        string
	heatmapCluster                int // -1 selects the largest cluster
}

// workflowOpts gathers the per-stage options. All randomness is seeded
// here; there is no hidden global state.
type workflowOpts struct {
	parse     counts.Opts
	qc        qc.Opts
	norm      normalize.Opts
	vari      variance.Opts
	reduce    reduce.Opts
	cluster   cluster.Opts
	markers   markers.Opts
	heatmap   report.HeatmapOpts
	minAvgCnt float64 // gene abundance floor, applied after QC
}

func defaultWorkflowOpts() workflowOpts {
	return workflowOpts{
		parse:     counts.DefaultOpts,
		qc:        qc.DefaultOpts,
		norm:      normalize.DefaultOpts,
		vari:      variance.DefaultOpts,
		reduce:    reduce.DefaultOpts,
		cluster:   cluster.DefaultOpts,
		markers:   markers.DefaultOpts,
		heatmap:   report.DefaultHeatmapOpts,
		minAvgCnt: 0.1,
	}
}

type workflowResult struct {
	Experiment *experiment.Experiment
	Outliers   qc.Outliers
	Clusters   *cluster.Result
	Markers    []*markers.Table
}

// loadAndAssemble runs ingestion, alignment, collapsing and assembly. Any
// cell-order mismatch aborts here: proceeding would pair measurements from
// different cells across the three assays.
func loadAndAssemble(flags workflowFlags, opts workflowOpts) (*experiment.Experiment, error) {
	log.Printf("Reading endogenous counts from %s", flags.endoPath)
	endo, err := counts.ReadFile(flags.endoPath, opts.parse)
	if err != nil {
		return nil, err
	}
	log.Printf("Reading mitochondrial counts from %s", flags.mitoPath)
	mito, err := counts.ReadFile(flags.mitoPath, opts.parse)
	if err != nil {
		return nil, err
	}
	log.Printf("Reading spike-in counts from %s", flags.spikePath)
	spike, err := counts.ReadFile(flags.spikePath, opts.parse)
	if err != nil {
		return nil, err
	}
	log.Printf("Read %d+%d+%d features over %d cells",
		endo.NFeatures(), mito.NFeatures(), spike.NFeatures(), endo.NCells())

	if err := experiment.Align(endo, mito, spike); err != nil {
		return nil, err
	}
	nBefore := endo.NFeatures()
	experiment.Collapse(endo)
	if n := nBefore - endo.NFeatures(); n > 0 {
		log.Printf("Collapsed %d duplicate gene-location rows", n)
	}

	e, err := experiment.Assemble(endo, mito, spike)
	if err != nil {
		return nil, err
	}
	if flags.geneMapPath != "" {
		lookup, err := experiment.ReadGeneIDMap(flags.geneMapPath)
		if err != nil {
			return nil, err
		}
		e.AttachGeneIDs(lookup)
	}
	return e, nil
}

// runWorkflow executes the pipeline strictly in stage order on a single
// goroutine; each stage mutates the one Experiment in place.
func runWorkflow(ctx context.Context, flags workflowFlags, opts workflowOpts) (*workflowResult, error) {
	e, err := loadAndAssemble(flags, opts)
	if err != nil {
		return nil, err
	}
	res := &workflowResult{Experiment: e}

	res.Outliers = qc.Filter(e, opts.qc)
	if err := report.WriteOutlierSummary(os.Stdout, res.Outliers); err != nil {
		return nil, err
	}
	log.Printf("%d cells pass QC", e.NCells())

	dropLowAbundance(e, opts.minAvgCnt)

	if err := normalize.Run(e, opts.norm); err != nil {
		return nil, err
	}
	log.Printf("Computed size factors for %d cells", e.NCells())

	decomp, err := variance.Decompose(e, opts.vari)
	if err != nil {
		return nil, err
	}
	if err := reduce.PCA(e, decomp, opts.reduce); err != nil {
		return nil, err
	}
	_, rank := e.PCs.Dims()
	log.Printf("Denoised embedding keeps %d components", rank)
	if err := reduce.TSNE(e, opts.reduce); err != nil {
		return nil, err
	}

	res.Clusters, err = cluster.Run(e, opts.cluster)
	if err != nil {
		return nil, err
	}
	if err := report.WriteClusterSummary(os.Stdout, res.Clusters); err != nil {
		return nil, err
	}

	res.Markers, err = markers.Detect(e.LogExprs, e.Clusters, nonSpikeRows(e), opts.markers)
	if err != nil {
		return nil, err
	}

	target := flags.heatmapCluster
	if target < 0 {
		target = 0 // cluster labels are size ordered; 0 is the largest
	}
	if target >= len(res.Markers) {
		return nil, fmt.Errorf("no cluster %d (have %d)", target, len(res.Markers))
	}
	if err := report.WriteMarkerHead(os.Stdout, e, res.Markers[target], 10); err != nil {
		return nil, err
	}

	if flags.outDir != "" {
		if err := writeOutputs(ctx, flags.outDir, e, res, target, opts); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// dropLowAbundance removes genes whose mean count is below floor. Spike-in
// rows are kept regardless: the technical trend needs them.
func dropLowAbundance(e *experiment.Experiment, floor float64) {
	nCells := float64(e.NCells())
	keep := make([]bool, e.NFeatures())
	dropped := 0
	for i := range keep {
		sum := 0.0
		for _, v := range e.Counts.RawRowView(i) {
			sum += v
		}
		keep[i] = e.IsSpike[i] || sum/nCells >= floor
		if !keep[i] {
			dropped++
		}
	}
	e.FilterFeatures(keep)
	log.Printf("Dropped %d low-abundance genes, %d features remain", dropped, e.NFeatures())
}

func nonSpikeRows(e *experiment.Experiment) []int {
	var rows []int
	for i, s := range e.IsSpike {
		if !s {
			rows = append(rows, i)
		}
	}
	return rows
}

func writeOutputs(ctx context.Context, dir string, e *experiment.Experiment, res *workflowResult, target int, opts workflowOpts) error {
	heat, err := report.BuildHeatmap(e, res.Markers[target], opts.heatmap)
	if err != nil {
		return err
	}
	path := file.Join(dir, fmt.Sprintf("markers-cluster%d.tsv", target))
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if err := heat.WriteTSV(out.Writer(ctx)); err != nil {
		return err
	}
	if err := out.Close(ctx); err != nil {
		return err
	}
	log.Printf("Wrote heatmap to %s", path)

	path = file.Join(dir, "tsne.tsv")
	out, err = file.Create(ctx, path)
	if err != nil {
		return err
	}
	w := out.Writer(ctx)
	if _, err := fmt.Fprintln(w, "cell\tcluster\ttsne1\ttsne2"); err != nil {
		return err
	}
	for j, id := range e.Cells {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\n",
			id, e.Clusters[j], e.TSNE.At(j, 0), e.TSNE.At(j, 1)); err != nil {
			return err
		}
	}
	if err := out.Close(ctx); err != nil {
		return err
	}
	log.Printf("Wrote t-SNE coordinates to %s", path)
	return nil
}
