package ingest

import (
	"errors"
	"fmt"

	"costgrid/internal/grid"
)

// ErrEmptyWorkbook marks a source file with no processable sheets: finalize
// refuses to emit a manifest for it.
var ErrEmptyWorkbook = errors.New("workbook contains no sheets")

// ManifestConsistencyError marks a chunk index entry referencing a sheet
// absent from the sheet metadata, the signature of a partial or interrupted
// ingestion run.
type ManifestConsistencyError struct {
	SheetID  string
	ChunkKey string
}

func (e *ManifestConsistencyError) Error() string {
	return fmt.Sprintf("manifest inconsistency: chunk %s references unknown sheet %q", e.ChunkKey, e.SheetID)
}

// ManifestBuilder accumulates sheet metadata, accumulated non-fatal errors
// and extracted assets as the run progresses, and emits the one immutable
// manifest at the end.
type ManifestBuilder struct {
	fileName  string
	chunkSize int

	sheets []grid.SheetMeta
	assets []grid.Asset
	errs   []grid.IngestError
}

// NewManifestBuilder creates a builder for one ingestion run.
func NewManifestBuilder(fileName string, chunkSize int) *ManifestBuilder {
	return &ManifestBuilder{fileName: fileName, chunkSize: chunkSize}
}

// AddSheet records one finished sheet's metadata.
func (mb *ManifestBuilder) AddSheet(meta grid.SheetMeta) {
	mb.sheets = append(mb.sheets, meta)
}

// AddAssets records extracted assets.
func (mb *ManifestBuilder) AddAssets(assets []grid.Asset) {
	mb.assets = append(mb.assets, assets...)
}

// AddErrors records accumulated non-fatal errors.
func (mb *ManifestBuilder) AddErrors(errs []grid.IngestError) {
	mb.errs = append(mb.errs, errs...)
}

// Finalize validates the run and emits the manifest. It rejects runs with
// zero sheets and chunk index entries referencing unknown sheets.
func (mb *ManifestBuilder) Finalize(styles grid.StyleTable, chunks []grid.ChunkRef) (*grid.Manifest, error) {
	if len(mb.sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	known := make(map[string]bool, len(mb.sheets))
	for _, s := range mb.sheets {
		known[s.ID] = true
	}
	for _, c := range chunks {
		if !known[c.SheetID] {
			return nil, &ManifestConsistencyError{SheetID: c.SheetID, ChunkKey: c.Key}
		}
	}
	if styles == nil {
		styles = make(grid.StyleTable)
	}
	if chunks == nil {
		chunks = []grid.ChunkRef{}
	}
	return &grid.Manifest{
		Version:          grid.ManifestVersion,
		OriginalFileName: mb.fileName,
		ChunkSize:        mb.chunkSize,
		Chunks:           chunks,
		Styles:           styles,
		Sheets:           mb.sheets,
		Assets:           mb.assets,
		Errors:           mb.errs,
	}, nil
}
