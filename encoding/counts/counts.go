// Package counts parses the delimited single-cell expression format used by
// the molecule-count brain datasets. Each file carries a transposed per-cell
// metadata block followed by a feature-by-cell count block.
//
// Layout, tab delimited:
//
//	line 1..MetadataRows:  <filler> <attribute name> <value per cell>...
//	next SkipRows lines:   filler, ignored
//	remaining lines:       <feature name> <filler> <count per cell>...
//
// The layout is a convention of one specific dataset release, not a general
// contract; MetadataRows and SkipRows exist so tests can shrink the block.
package counts

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"
)

// Opts configures the parser.
type Opts struct {
	// MetadataRows is the number of leading per-cell attribute rows.
	MetadataRows int
	// SkipRows is the number of filler rows between the metadata block and
	// the count block.
	SkipRows int
	// CellIDField is the metadata attribute holding the cell identifier.
	CellIDField string
}

// DefaultOpts matches the published dataset layout.
var DefaultOpts = Opts{
	MetadataRows: 10,
	SkipRows:     1,
	CellIDField:  "cell_id",
}

// Metadata is a per-cell attribute table. Values[i] holds one value per
// field, for cell i.
type Metadata struct {
	Fields []string
	Values [][]string
}

// Column returns the values of the named field, one per cell, or nil if the
// field is absent.
func (m *Metadata) Column(name string) []string {
	for j, f := range m.Fields {
		if f != name {
			continue
		}
		col := make([]string, len(m.Values))
		for i, row := range m.Values {
			col[i] = row[j]
		}
		return col
	}
	return nil
}

// Permute reorders the cells so that new row i is old row perm[i].
func (m *Metadata) Permute(perm []int) {
	values := make([][]string, len(perm))
	for i, p := range perm {
		values[i] = m.Values[p]
	}
	m.Values = values
}

// Select drops every cell whose keep entry is false.
func (m *Metadata) Select(keep []bool) {
	values := m.Values[:0]
	for i, row := range m.Values {
		if keep[i] {
			values = append(values, row)
		}
	}
	m.Values = values
}

// Source is one parsed input: a metadata table and a feature-by-cell count
// matrix. Column j of Counts describes the cell in Metadata.Values[j]; this
// pairing is the invariant every later stage relies on.
type Source struct {
	Features []string
	Cells    []string
	Metadata *Metadata
	Counts   *mat.Dense
}

// NCells returns the number of cells in the source.
func (s *Source) NCells() int { return len(s.Cells) }

// NFeatures returns the number of count rows in the source.
func (s *Source) NFeatures() int { return len(s.Features) }

// ReadFile parses the file at path. Files ending in .gz are decompressed on
// the fly. Errors are returned verbatim; there is no retry.
func ReadFile(path string, opts Opts) (*Source, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = in.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", path, err)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	src, err := Read(r, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if err := in.Close(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

// Read parses one source from r.
func Read(r io.Reader, opts Opts) (*Source, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	meta := &Metadata{}
	nCells := -1
	for i := 0; i < opts.MetadataRows; i++ {
		if !sc.Scan() {
			return nil, scanErr(sc, "truncated metadata block")
		}
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("metadata line %d: want >=3 columns, got %d", i+1, len(fields))
		}
		if nCells < 0 {
			nCells = len(fields) - 2
			meta.Values = make([][]string, nCells)
		} else if len(fields)-2 != nCells {
			return nil, fmt.Errorf("metadata line %d: want %d cells, got %d", i+1, nCells, len(fields)-2)
		}
		meta.Fields = append(meta.Fields, fields[1])
		for c, v := range fields[2:] {
			meta.Values[c] = append(meta.Values[c], v)
		}
	}
	for i := 0; i < opts.SkipRows; i++ {
		if !sc.Scan() {
			return nil, scanErr(sc, "truncated filler block")
		}
	}

	var (
		features []string
		data     []float64
		line     = opts.MetadataRows + opts.SkipRows
	)
	for sc.Scan() {
		line++
		fields := strings.Split(sc.Text(), "\t")
		if len(fields)-2 != nCells {
			return nil, fmt.Errorf("count line %d: want %d cells, got %d", line, nCells, len(fields)-2)
		}
		features = append(features, fields[0])
		for _, v := range fields[2:] {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("count line %d: %v", line, err)
			}
			data = append(data, x)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no count rows after %d header lines", opts.MetadataRows+opts.SkipRows)
	}

	cells := meta.Column(opts.CellIDField)
	if cells == nil {
		return nil, fmt.Errorf("metadata has no %q field (have %v)", opts.CellIDField, meta.Fields)
	}
	return &Source{
		Features: features,
		Cells:    cells,
		Metadata: meta,
		Counts:   mat.NewDense(len(features), nCells, data),
	}, nil
}

func scanErr(sc *bufio.Scanner, msg string) error {
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s: unexpected EOF", msg)
}
