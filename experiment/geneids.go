package experiment

import (
	"fmt"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
)

// ReadGeneIDMap reads a symbol-to-identifier lookup from a two-column TSV
// with header "Symbol<tab>Ensembl". Later rows win on duplicate symbols.
func ReadGeneIDMap(path string) (map[string]string, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := tsv.NewReader(in.Reader(ctx))
	r.HasHeaderRow = true
	r.ValidateHeader = true

	lookup := map[string]string{}
	row := struct{ Symbol, Ensembl string }{}
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%s: %v", path, err)
		}
		lookup[row.Symbol] = row.Ensembl
	}
	if err := in.Close(ctx); err != nil {
		return nil, err
	}
	return lookup, nil
}
