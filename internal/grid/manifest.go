package grid

import "time"

// ManifestVersion identifies the persisted manifest JSON layout.
const ManifestVersion = 1

// MergeRegion is one rectangular merged range, 0-indexed with inclusive
// start and end rows/columns (the "A1:C3" convention). Merge regions within
// one sheet never overlap.
type MergeRegion struct {
	StartRow    int `json:"startRow"`
	StartColumn int `json:"startColumn"`
	EndRow      int `json:"endRow"`
	EndColumn   int `json:"endColumn"`
}

// FreezePane marks the first scrollable row/column of a frozen pane,
// 0-indexed: {startRow: 1, startColumn: 0} freezes the first row.
type FreezePane struct {
	StartRow    int `json:"startRow"`
	StartColumn int `json:"startColumn"`
}

// SheetMeta describes one sheet of the converted document. Row and column
// counts are padded beyond the actual data by a fixed margin so a consuming
// editor can insert rows/columns without growing the grid immediately.
type SheetMeta struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Hidden bool   `json:"hidden,omitempty"`

	RowCount    int `json:"rowCount"`
	ColumnCount int `json:"columnCount"`

	DefaultRowHeight float64 `json:"defaultRowHeight,omitempty"`
	DefaultColWidth  float64 `json:"defaultColWidth,omitempty"`

	Freeze    *FreezePane   `json:"freeze,omitempty"`
	MergeData []MergeRegion `json:"mergeData"`
	// Sparse maps of non-default layout attributes, keyed by 0-based index.
	ColumnWidths  map[int]float64 `json:"columnWidths,omitempty"`
	HiddenColumns map[int]bool    `json:"hiddenColumns,omitempty"`
	RowHeights    map[int]float64 `json:"rowHeights,omitempty"`
}

// ChunkRef is one entry of the manifest chunk index. StartRow and EndRow are
// inclusive, like merge ranges.
type ChunkRef struct {
	SheetID  string `json:"sheetId"`
	StartRow int    `json:"startRow"`
	EndRow   int    `json:"endRow"`
	Key      string `json:"key"`
}

// Chunk is one immutable row-range slice of a sheet, persisted as a single
// storage object.
type Chunk struct {
	SheetID  string `json:"sheetId"`
	StartRow int    `json:"startRow"`
	Rows     []Row  `json:"rows"`
}

// Asset is one extracted embedded image, keyed by estimate concept code
// rather than by row position.
type Asset struct {
	ID          string `json:"id"`
	ConceptCode string `json:"conceptCode"`
	Sheet       string `json:"sheet"`
	CellRef     string `json:"cellRef"`
	Format      string `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Key         string `json:"key"`
}

// IngestError is one non-fatal, accumulated failure (asset extraction or
// upload) attached to the manifest so callers can see what was skipped.
type IngestError struct {
	Sheet     string    `json:"sheet,omitempty"`
	AssetID   string    `json:"assetId,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the top-level document descriptor and the single source of
// truth for reassembly. A new ingestion run produces a new manifest; an old
// one is never patched.
type Manifest struct {
	Version          int           `json:"version"`
	OriginalFileName string        `json:"originalFileName"`
	ChunkSize        int           `json:"chunkSize"`
	Chunks           []ChunkRef    `json:"chunks"`
	Styles           StyleTable    `json:"styles"`
	Sheets           []SheetMeta   `json:"sheets"`
	Assets           []Asset       `json:"assets,omitempty"`
	Errors           []IngestError `json:"errors,omitempty"`
}
