package workbook

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/shakinm/xlsReader/xls"
)

// xlsBook reads legacy BIFF .xls workbooks. The BIFF reader exposes cell
// text only, so legacy sheets carry no style, merge or picture information;
// values that parse as numbers are typed as numbers.
type xlsBook struct {
	wb xls.Workbook
}

func openXLS(data []byte) (Workbook, error) {
	// Validate the OLE2 container first: a broken compound file is
	// corruption, a sound one that is not a BIFF workbook (a .doc, a .ppt)
	// is an unsupported format.
	if _, err := mscfb.New(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWorkbook, err)
	}
	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return &xlsBook{wb: wb}, nil
}

func (b *xlsBook) Close() error { return nil }

func (b *xlsBook) Sheets() []SheetInfo {
	n := b.wb.GetNumberSheets()
	infos := make([]SheetInfo, 0, n)
	for i := 0; i < n; i++ {
		sheet, err := b.wb.GetSheet(i)
		if err != nil || sheet == nil {
			continue
		}
		infos = append(infos, SheetInfo{
			Index:            i,
			Name:             sheet.GetName(),
			DefaultRowHeight: defaultRowHeight,
			DefaultColWidth:  defaultColWidth,
		})
	}
	return infos
}

func (b *xlsBook) EachRow(sheet SheetInfo, fn RowVisitor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sheet %q: %v", ErrCorruptWorkbook, sheet.Name, r)
		}
	}()

	s, err := b.wb.GetSheet(sheet.Index)
	if err != nil || s == nil {
		return fmt.Errorf("%w: sheet %q unreadable", ErrCorruptWorkbook, sheet.Name)
	}

	numRows := s.GetNumberRows()
	for rowIdx := 0; rowIdx < numRows; rowIdx++ {
		row, err := s.GetRow(rowIdx)
		if err != nil || row == nil {
			continue
		}
		src := SourceRow{Index: rowIdx + 1}
		for colIdx, cell := range row.GetCols() {
			val := strings.TrimSpace(cell.GetString())
			if val == "" {
				continue
			}
			src.Cells = append(src.Cells, SourceCell{
				Column: colIdx + 1,
				Value:  legacyValue(val),
			})
		}
		if err := fn(src); err != nil {
			return err
		}
	}
	return nil
}

// legacyValue promotes numeric-looking cell text to float64 so legacy sheets
// keep the same value typing as OOXML ones.
func legacyValue(s string) any {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}

// Pictures is a no-op for legacy workbooks: the BIFF reader does not expose
// embedded drawings.
func (b *xlsBook) Pictures(SheetInfo) ([]Picture, error) { return nil, nil }
