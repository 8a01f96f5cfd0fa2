// Package ingest runs the workbook ingestion pipeline: stream rows, convert
// them, buffer into fixed-size chunks, and emit a manifest describing how to
// reassemble the document.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"costgrid/internal/grid"
	"costgrid/internal/store"
)

// DefaultChunkSize is the row-count threshold at which a buffer is flushed
// as one immutable chunk object.
const DefaultChunkSize = 2000

// ChunkWriter buffers converted rows per sheet and flushes full buffers
// synchronously: a slow store throttles ingestion through Append, which is
// the accepted backpressure point. Chunks are written in strictly increasing
// (sheet order, startRow) order with a sequence index that is monotonic
// across the whole document, and a chunk never spans two sheets.
type ChunkWriter struct {
	store     store.Store
	prefix    string
	chunkSize int

	sheetID string
	rows    []grid.Row
	seq     int
	index   []grid.ChunkRef
}

// NewChunkWriter creates a writer persisting chunks under
// "{prefix}/chunk_{seq}.json".
func NewChunkWriter(st store.Store, prefix string, chunkSize int) *ChunkWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkWriter{
		store:     st,
		prefix:    prefix,
		chunkSize: chunkSize,
	}
}

// Append buffers one converted row under the given sheet, flushing when the
// buffer reaches the chunk size. Switching sheets flushes the previous
// sheet's partial buffer first.
func (w *ChunkWriter) Append(ctx context.Context, sheetID string, rowIndex int, row grid.CellRow) error {
	if sheetID != w.sheetID {
		if err := w.Flush(ctx); err != nil {
			return err
		}
		w.sheetID = sheetID
	}
	w.rows = append(w.rows, grid.Row{R: rowIndex, Data: row})
	if len(w.rows) >= w.chunkSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows, if any, as one chunk object and records
// its index entry. Called at threshold boundaries, at end-of-sheet, and at
// end-of-document for the trailing partial buffer.
func (w *ChunkWriter) Flush(ctx context.Context) error {
	if len(w.rows) == 0 {
		return nil
	}
	chunk := grid.Chunk{
		SheetID:  w.sheetID,
		StartRow: w.rows[0].R,
		Rows:     w.rows,
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", w.seq, err)
	}
	key := fmt.Sprintf("%s/chunk_%d.json", w.prefix, w.seq)
	if err := w.store.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("persist chunk %d: %w", w.seq, err)
	}
	w.index = append(w.index, grid.ChunkRef{
		SheetID:  w.sheetID,
		StartRow: chunk.StartRow,
		EndRow:   w.rows[len(w.rows)-1].R,
		Key:      key,
	})
	w.seq++
	w.rows = nil
	return nil
}

// Index returns the ordered chunk index accumulated so far.
func (w *ChunkWriter) Index() []grid.ChunkRef {
	return w.index
}

// Chunks returns the number of chunks written.
func (w *ChunkWriter) Chunks() int {
	return w.seq
}
