// Package grid defines the normalized cell-grid model shared by the whole
// ingestion pipeline: cells, the deduplicated style table, sheet metadata,
// chunks and the document manifest.
package grid

// CellType tags the runtime type of a cell value so consumers never have to
// re-infer it from the JSON encoding.
type CellType string

const (
	TypeString  CellType = "string"
	TypeNumber  CellType = "number"
	TypeBoolean CellType = "boolean"
)

// Cell is one converted spreadsheet cell. Cells are created once during row
// conversion and never mutated afterwards; edits happen in a separate layer
// that produces new snapshots.
type Cell struct {
	// Value is the display/computed value: string, float64, bool or nil.
	// For formula-backed cells it holds the last cached evaluation result.
	Value any `json:"value"`
	// Type is derived from Value's runtime type.
	Type CellType `json:"type"`
	// Formula is the original formula text, present only for formula-backed
	// cells. The value is never recomputed here.
	Formula string `json:"formula,omitempty"`
	// StyleRef is a key into the document style table ("s0", "s1", …).
	// Two cells with identical visual styling share one StyleRef.
	StyleRef string `json:"styleRef,omitempty"`
}

// TypeOf derives the CellType tag for a resolved cell value.
func TypeOf(v any) CellType {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return TypeNumber
	case bool:
		return TypeBoolean
	default:
		return TypeString
	}
}

// CellRow maps a 0-based column index to its cell. Empty cells (no value, no
// style, no formula) have no entry at all.
type CellRow map[int]Cell

// Row is one converted row as it appears inside a chunk.
type Row struct {
	R    int     `json:"r"`
	Data CellRow `json:"data"`
}
