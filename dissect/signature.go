package dissect

import (
	"context"

	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/signature"
)

// BuildTableSignature computes table's carving signature from its
// current (most recent version) rows. A table with at least one
// surviving row yields a probabilistic signature built from those
// rows; an empty table falls back to the recommended signature
// derived purely from its declared column affinities, since there's
// nothing to sample.
func BuildTableSignature(ctx context.Context, source page.PageSource, usablePageSize int, table schema.Object) (signature.Signature, error) {
	cells, err := page.CollectLeaves(ctx, source, uint32(table.RootPage), usablePageSize)
	if err != nil {
		return signature.Signature{}, err
	}

	sig := signature.BuildFromTable(table.Name, len(table.Columns), cells)
	if sig.Probabilistic {
		return sig, nil
	}
	return signature.RecommendedFromSchema(table.Name, table.Columns), nil
}
