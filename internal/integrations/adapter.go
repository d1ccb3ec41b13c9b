// Package integrations imports travel-time matrices from external sources
// into matrix datasets.
package integrations

import (
	"context"
	"fmt"
	"log"

	"drtdispatch/internal/matrix"
)

// MatrixSource provides named sets of sparse matrix records.
type MatrixSource interface {
	Name() string
	Datasets(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, dataset string) ([]matrix.Record, error)
}

// MatrixSink stores records of a dataset; a later pair replaces an earlier one.
type MatrixSink interface {
	SaveMatrix(ctx context.Context, dataset string, records []matrix.Record) (int, error)
}

// ImportAll copies every dataset of src into dst.
func ImportAll(ctx context.Context, src MatrixSource, dst MatrixSink) error {
	names, err := src.Datasets(ctx)
	if err != nil {
		return fmt.Errorf("import %s: %w", src.Name(), err)
	}
	for _, name := range names {
		recs, err := src.Fetch(ctx, name)
		if err != nil {
			return fmt.Errorf("import %s/%s: %w", src.Name(), name, err)
		}
		n, err := dst.SaveMatrix(ctx, name, recs)
		if err != nil {
			return fmt.Errorf("import %s/%s: %w", src.Name(), name, err)
		}
		log.Printf("import source=%s dataset=%s records=%d size=%d", src.Name(), name, n, matrix.SizeOf(recs))
	}
	return nil
}
