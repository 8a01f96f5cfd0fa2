// Package convert maps raw source rows into the normalized cell model. The
// conversion is one pure function with no I/O, shared by the ingestion
// pipeline, the queue worker, and the benchmark harness.
package convert

import (
	"time"

	"costgrid/internal/grid"
	"costgrid/internal/workbook"
)

// Row converts one source row into its 0-based row index and cell mapping.
//
// Per populated column:
//   - formula-backed cells keep the formula text and the cached result as
//     value; nothing is ever recomputed here
//   - dates are normalized to ISO-8601 strings
//   - the type tag is derived from the resolved value's runtime type
//   - non-default styles are interned and referenced by key
//   - columns with no value, no style and no formula produce no entry
//   - cells whose only content is an embedded image reference are recorded
//     as empty; images belong to the asset extractor
//
// Source indices are 1-based; output indices are 0-based.
func Row(src workbook.SourceRow, interner *grid.Interner) (int, grid.CellRow) {
	out := make(grid.CellRow, len(src.Cells))
	for _, sc := range src.Cells {
		value := normalizeValue(sc.Value)
		if sc.IsImage {
			value = nil
		}

		styleRef := ""
		if !sc.Style.IsZero() {
			styleRef = interner.Intern(sc.Style)
		}

		if value == nil && styleRef == "" && sc.Formula == "" {
			continue
		}

		out[sc.Column-1] = grid.Cell{
			Value:    value,
			Type:     grid.TypeOf(value),
			Formula:  sc.Formula,
			StyleRef: styleRef,
		}
	}
	return src.Index - 1, out
}

// normalizeValue collapses the reader's value types onto the cell model's
// {string, float64, bool, nil} domain.
func normalizeValue(v any) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case string:
		if tv == "" {
			return nil
		}
		return tv
	case float64:
		return tv
	case float32:
		return float64(tv)
	case int:
		return float64(tv)
	case int32:
		return float64(tv)
	case int64:
		return float64(tv)
	case bool:
		return tv
	case time.Time:
		return tv.UTC().Format(time.RFC3339)
	default:
		return nil
	}
}
