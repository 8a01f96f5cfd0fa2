// Package workbook reads source spreadsheet files sheet-by-sheet,
// row-by-row, without materializing whole sheets in memory. It supports
// OOXML .xlsx (via excelize) and legacy BIFF .xls (via xlsReader), selected
// by container magic bytes.
package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"costgrid/internal/grid"
)

var (
	// ErrCorruptWorkbook marks a byte stream that is not a well-formed
	// workbook container (truncated, garbage, broken archive).
	ErrCorruptWorkbook = errors.New("corrupt workbook container")
	// ErrUnsupportedFormat marks a well-formed container holding a format
	// or version this reader does not parse.
	ErrUnsupportedFormat = errors.New("unsupported workbook format")
)

// SourceCell is one raw populated cell as exposed by a reader. Column is the
// source's 1-based column number; the converter owns the 0-based shift.
type SourceCell struct {
	Column  int
	Value   any
	Formula string
	Style   *grid.StyleDescriptor
	// IsImage marks a cell whose only content is an embedded drawing
	// reference. The row converter records such cells as empty; images go
	// through the asset extractor instead.
	IsImage bool
}

// SourceRow is one raw row. Index is the source's 1-based row number.
type SourceRow struct {
	Index  int
	Cells  []SourceCell
	Height float64
	Hidden bool
}

// SheetInfo describes one sheet of the source workbook.
type SheetInfo struct {
	Index  int
	Name   string
	Hidden bool

	DefaultRowHeight float64
	DefaultColWidth  float64

	Merges []grid.MergeRegion
	Freeze *grid.FreezePane

	ColumnWidths  map[int]float64
	HiddenColumns map[int]bool
}

// Picture is one embedded image with its anchor cell (top-left of the
// placement range) in A1 notation.
type Picture struct {
	Sheet     string
	Cell      string
	Extension string
	Data      []byte
}

// RowVisitor receives rows strictly in sheet order. Returning an error stops
// the iteration and propagates.
type RowVisitor func(row SourceRow) error

// Workbook is a source workbook read one sheet at a time: at most one
// sheet's decoded content is resident alongside the container bytes. Row
// sequences are finite and may be iterated more than once; the asset
// extractor re-walks sheets the pipeline has already consumed.
type Workbook interface {
	Sheets() []SheetInfo
	EachRow(sheet SheetInfo, fn RowVisitor) error
	Pictures(sheet SheetInfo) ([]Picture, error)
	Close() error
}

// Container magic bytes: ZIP local file header and OLE2 compound file.
var (
	zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Open sniffs the container format and returns the matching reader.
// Unrecognized or truncated streams fail with ErrCorruptWorkbook; well-formed
// containers that are not workbooks fail with ErrUnsupportedFormat.
//
// The container bytes are buffered once (both backends need random access
// into the archive). Decoded sheet content is bounded to the sheet being
// read: the xlsx backend releases its parsed worksheet before moving on.
func Open(r io.Reader) (Workbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read source stream: %v", ErrCorruptWorkbook, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: stream shorter than a container header", ErrCorruptWorkbook)
	}
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return openXLSX(data)
	case bytes.HasPrefix(data, cfbMagic):
		return openXLS(data)
	default:
		return nil, fmt.Errorf("%w: unrecognized container signature", ErrCorruptWorkbook)
	}
}

// parseCellRef converts an A1-style reference into 1-based column and row.
func parseCellRef(ref string) (col, row int, err error) {
	col, row, err = excelize.CellNameToCoordinates(ref)
	if err != nil {
		return 0, 0, fmt.Errorf("parse cell ref %q: %w", ref, err)
	}
	return col, row, nil
}

// ParseCellRef is the exported form used by the asset extractor to resolve
// picture anchors.
func ParseCellRef(ref string) (col, row int, err error) {
	return parseCellRef(ref)
}
