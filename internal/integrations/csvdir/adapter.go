// Package csvdir reads matrix datasets from a directory of
// "from,to,time,distance" CSV files, one dataset per <name>.csv.
package csvdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"drtdispatch/internal/matrix"
)

type Source struct {
	Dir string
}

func New(dir string) Source { return Source{Dir: dir} }

func (s Source) Name() string { return "csv-dir" }

func (s Source) Datasets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(out)
	return out, nil
}

func (s Source) Fetch(ctx context.Context, dataset string) ([]matrix.Record, error) {
	if strings.ContainsAny(dataset, `/\`) || dataset == ".." {
		return nil, fmt.Errorf("bad dataset name %q", dataset)
	}
	f, err := os.Open(filepath.Join(s.Dir, dataset+".csv"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return matrix.ReadCSV(f)
}
