package main

//
// bio-scrna
//
// Single-cell RNA-seq analysis pipeline. Reads three count tables produced
// by the quantification step (endogenous genes, mitochondrial genes, ERCC
// spike-ins), then runs QC filtering, normalization, variance modeling,
// dimensionality reduction, graph clustering and marker detection.
//
// Example:
//
//    bio-scrna -endo counts_endo.tsv.gz -mito counts_mito.tsv.gz \
//      -spike counts_ercc.tsv.gz -gene-map symbol2ensembl.tsv -out-dir ./out
//
// Summaries go to stdout; the marker heatmap matrix and t-SNE coordinates
// are written under -out-dir.

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

func usage() {
	fmt.Fprintln(os.Stderr, `
bio-scrna runs the single-cell RNA-seq analysis pipeline over three count
tables that share one cell population: endogenous genes, mitochondrial
genes, and ERCC spike-ins.

Usage:
  bio-scrna -endo <tsv> -mito <tsv> -spike <tsv> [flags]

All three inputs are required. Files ending in .gz are decompressed on the
fly. Paths may be local or S3.`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage

	flags := workflowFlags{}
	opts := defaultWorkflowOpts()
	flag.StringVar(&flags.endoPath, "endo", "", "Count table for endogenous genes.")
	flag.StringVar(&flags.mitoPath, "mito", "", "Count table for mitochondrial genes.")
	flag.StringVar(&flags.spikePath, "spike", "", "Count table for ERCC spike-ins.")
	flag.StringVar(&flags.geneMapPath, "gene-map", "", "Optional two-column symbol-to-Ensembl mapping file.")
	flag.StringVar(&flags.outDir, "out-dir", "", "Directory for the heatmap and t-SNE outputs. If empty, only stdout summaries are produced.")
	flag.IntVar(&flags.heatmapCluster, "heatmap-cluster", -1, "Cluster whose markers appear in the heatmap. -1 picks the largest cluster.")

	flag.IntVar(&opts.parse.MetadataRows, "metadata-rows", opts.parse.MetadataRows, "Number of per-cell metadata rows preceding the count block.")
	flag.Float64Var(&opts.qc.NMADs, "qc-nmads", opts.qc.NMADs, "Median absolute deviations defining a QC outlier.")
	flag.Float64Var(&opts.minAvgCnt, "min-avg-count", opts.minAvgCnt, "Genes with mean count below this are dropped after QC.")
	flag.IntVar(&opts.norm.GroupSize, "norm-group-size", opts.norm.GroupSize, "Target cells per coarse group during size-factor estimation.")
	flag.Float64Var(&opts.vari.Span, "trend-span", opts.vari.Span, "Loess span for the technical mean-variance trend.")
	flag.IntVar(&opts.reduce.MaxComponents, "max-pcs", opts.reduce.MaxComponents, "Upper bound on retained principal components.")
	flag.Float64Var(&opts.reduce.Perplexity, "perplexity", opts.reduce.Perplexity, "t-SNE perplexity.")
	flag.IntVar(&opts.cluster.K, "knn", opts.cluster.K, "Neighbors per cell in the shared-nearest-neighbor graph.")
	flag.Float64Var(&opts.cluster.Resolution, "resolution", opts.cluster.Resolution, "Modularity resolution for community detection.")

	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()

	if flags.endoPath == "" || flags.mitoPath == "" || flags.spikePath == "" {
		log.Fatal("-endo, -mito and -spike are all required")
	}
	if _, err := runWorkflow(ctx, flags, opts); err != nil {
		log.Fatalf("bio-scrna: %v", err)
	}
	log.Printf("All done")
}
