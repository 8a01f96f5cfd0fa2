package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"costgrid/internal/assets"
	"costgrid/internal/convert"
	"costgrid/internal/grid"
	"costgrid/internal/store"
	"costgrid/internal/workbook"
)

// Padding margins applied to each sheet's declared dimensions so a consuming
// editor has room to grow before the grid must be resized.
const (
	rowMargin = 100
	minRows   = 200
	colMargin = 10
	minCols   = 26
)

// Options configure one ingestion run.
type Options struct {
	// OutputPrefix is the storage key prefix for every object the run
	// writes: chunks, assets, and the manifest.
	OutputPrefix string
	// FileName is the original upload name recorded in the manifest.
	FileName string
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
	// RowMargin and ColMargin override the default dimension padding when
	// positive. The minimum padded size floors always apply.
	RowMargin int
	ColMargin int
	// ExtractAssets enables embedded-image extraction.
	ExtractAssets bool
	// Asset tunables, passed through to the extractor.
	AssetMaxEdge     int
	AssetQuality     int
	AssetConcurrency int
	// OnProgress, when set, receives coarse progress updates in percent
	// with a short status message.
	OnProgress func(percent int, message string)
}

// SheetSummary is one sheet's contribution to a run result.
type SheetSummary struct {
	ID       string
	Name     string
	RowCount int
}

// Result describes one completed ingestion run.
type Result struct {
	ManifestKey     string
	TotalRows       int
	TotalChunks     int
	Sheets          []SheetSummary
	ImagesProcessed int
	ImagesFailed    int
}

// Pipeline converts source workbooks into chunked grid documents persisted
// in an object store.
type Pipeline struct {
	store store.Store
}

// NewPipeline creates a pipeline writing to st.
func NewPipeline(st store.Store) *Pipeline {
	return &Pipeline{store: st}
}

// Run ingests one workbook stream: sheets are processed in order, rows are
// converted and chunked as they stream, embedded images are extracted, and
// the manifest is written last. If the run fails at any point no manifest is
// emitted, so partially written chunks are unreachable garbage rather than a
// half-readable document.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if opts.RowMargin <= 0 {
		opts.RowMargin = rowMargin
	}
	if opts.ColMargin <= 0 {
		opts.ColMargin = colMargin
	}
	progress := opts.OnProgress
	if progress == nil {
		progress = func(int, string) {}
	}

	progress(5, "opening workbook")
	wb, err := workbook.Open(r)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}

	interner := grid.NewInterner()
	writer := NewChunkWriter(p.store, opts.OutputPrefix, chunkSize)
	builder := NewManifestBuilder(opts.FileName, chunkSize)
	result := &Result{}

	// Sheet conversion spans the 10..80 percent window.
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(10+70*i/len(sheets), fmt.Sprintf("converting sheet %q", sheet.Name))

		sheetID := fmt.Sprintf("sheet-%d", sheet.Index)
		meta, rows, err := p.convertSheet(ctx, wb, sheet, sheetID, opts, writer, interner)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet.Name, err)
		}
		builder.AddSheet(meta)
		result.TotalRows += rows
		result.Sheets = append(result.Sheets, SheetSummary{ID: sheetID, Name: sheet.Name, RowCount: rows})
	}
	if err := writer.Flush(ctx); err != nil {
		return nil, err
	}
	result.TotalChunks = writer.Chunks()

	if opts.ExtractAssets {
		progress(85, "extracting images")
		p.extractAssets(ctx, wb, opts, builder, result)
	}

	progress(95, "writing manifest")
	manifest, err := builder.Finalize(interner.Table(), writer.Index())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	result.ManifestKey = opts.OutputPrefix + "/manifest.json"
	if err := p.store.Put(ctx, result.ManifestKey, data, "application/json"); err != nil {
		return nil, fmt.Errorf("persist manifest: %w", err)
	}

	progress(100, "done")
	log.Printf("[Ingest] %q: %d rows, %d chunks, %d styles, %d sheets",
		opts.FileName, result.TotalRows, result.TotalChunks, interner.Len(), len(result.Sheets))
	return result, nil
}

// convertSheet streams one sheet through the converter and chunk writer and
// returns its padded metadata along with the populated row count.
func (p *Pipeline) convertSheet(ctx context.Context, wb workbook.Workbook, sheet workbook.SheetInfo, sheetID string, opts Options, writer *ChunkWriter, interner *grid.Interner) (grid.SheetMeta, int, error) {
	maxRow, maxCol := -1, -1
	rows := 0
	var rowHeights map[int]float64

	err := wb.EachRow(sheet, func(src workbook.SourceRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, cells := convert.Row(src, interner)
		if idx > maxRow {
			maxRow = idx
		}
		for col := range cells {
			if col > maxCol {
				maxCol = col
			}
		}
		if src.Height > 0 && src.Height != sheet.DefaultRowHeight {
			if rowHeights == nil {
				rowHeights = make(map[int]float64)
			}
			rowHeights[idx] = src.Height
		}
		if len(cells) == 0 {
			return nil
		}
		rows++
		return writer.Append(ctx, sheetID, idx, cells)
	})
	if err != nil {
		return grid.SheetMeta{}, 0, err
	}

	// Merged ranges and layout maps can reach past the last populated cell.
	for _, m := range sheet.Merges {
		if m.EndRow > maxRow {
			maxRow = m.EndRow
		}
		if m.EndColumn > maxCol {
			maxCol = m.EndColumn
		}
	}
	for col := range sheet.ColumnWidths {
		if col > maxCol {
			maxCol = col
		}
	}

	meta := grid.SheetMeta{
		ID:               sheetID,
		Name:             sheet.Name,
		Hidden:           sheet.Hidden,
		RowCount:         padded(maxRow+1, opts.RowMargin, minRows),
		ColumnCount:      padded(maxCol+1, opts.ColMargin, minCols),
		DefaultRowHeight: sheet.DefaultRowHeight,
		DefaultColWidth:  sheet.DefaultColWidth,
		Freeze:           sheet.Freeze,
		MergeData:        sheet.Merges,
		ColumnWidths:     sheet.ColumnWidths,
		HiddenColumns:    sheet.HiddenColumns,
		RowHeights:       rowHeights,
	}
	if meta.MergeData == nil {
		meta.MergeData = []grid.MergeRegion{}
	}
	return meta, rows, nil
}

// extractAssets runs image extraction and folds the outcome into the
// manifest. Extraction failures degrade the run, they never fail it: the
// grid data is still complete without its pictures.
func (p *Pipeline) extractAssets(ctx context.Context, wb workbook.Workbook, opts Options, builder *ManifestBuilder, result *Result) {
	ex := assets.NewExtractor(p.store, assets.Options{
		Prefix:      opts.OutputPrefix,
		MaxEdge:     opts.AssetMaxEdge,
		Quality:     opts.AssetQuality,
		Concurrency: opts.AssetConcurrency,
	})
	res, err := ex.Run(ctx, wb)
	if err != nil {
		log.Printf("[Ingest] asset extraction skipped: %v", err)
		builder.AddErrors([]grid.IngestError{assets.ExtractionError(err)})
		return
	}
	builder.AddAssets(res.Assets)
	builder.AddErrors(res.Errors)
	result.ImagesProcessed = res.Processed
	result.ImagesFailed = res.Failed
}

// padded grows a dimension by its margin and clamps it to a floor.
func padded(n, margin, min int) int {
	n += margin
	if n < min {
		return min
	}
	return n
}
