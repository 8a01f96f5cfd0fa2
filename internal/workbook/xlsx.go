package workbook

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"costgrid/internal/grid"
)

// defaultColWidth is the OOXML default column width in character units,
// used when the sheet carries no explicit default.
const defaultColWidth = 9.140625

// defaultRowHeight is the OOXML default row height in points.
const defaultRowHeight = 15.0

// borderClasses maps the OOXML numeric border style to its class name.
// Index 0 is "none" and produces no edge.
var borderClasses = [...]string{
	"", "thin", "medium", "dashed", "dotted", "thick", "double", "hair",
	"mediumDashed", "dashDot", "mediumDashDot", "dashDotDot",
	"mediumDashDotDot", "slantDashDot",
}

// builtinNumFmt maps the common OOXML built-in number format ids to their
// pattern strings. Custom formats carry their pattern directly.
var builtinNumFmt = map[int]string{
	1: "0", 2: "0.00", 3: "#,##0", 4: "#,##0.00",
	9: "0%", 10: "0.00%", 11: "0.00E+00", 12: "# ?/?", 13: "# ??/??",
	14: "m/d/yyyy", 15: "d-mmm-yy", 16: "d-mmm", 17: "mmm-yy",
	18: "h:mm AM/PM", 19: "h:mm:ss AM/PM", 20: "h:mm", 21: "h:mm:ss",
	22: "m/d/yyyy h:mm",
	37: "#,##0 ;(#,##0)", 38: "#,##0 ;[Red](#,##0)",
	39: "#,##0.00;(#,##0.00)", 40: "#,##0.00;[Red](#,##0.00)",
	45: "mm:ss", 46: "[h]:mm:ss", 47: "mmss.0", 48: "##0.0E+0", 49: "@",
}

// dateNumFmtIDs are the built-in format ids that render serial numbers as
// dates or times.
var dateNumFmtIDs = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true,
	21: true, 22: true, 45: true, 46: true, 47: true,
}

type xlsxBook struct {
	f *excelize.File
	// styleCache maps excelize style ids to resolved descriptors; nil entry
	// means the id resolves to an all-default style.
	styleCache map[int]*grid.StyleDescriptor
	// dateStyle records which style ids carry a date/time number format.
	dateStyle map[int]bool
}

func openXLSX(data []byte) (Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		// A broken archive is corruption; a sound ZIP that excelize cannot
		// read as a workbook is an unsupported format.
		if _, zerr := zip.NewReader(bytes.NewReader(data), int64(len(data))); zerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptWorkbook, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return &xlsxBook{
		f:          f,
		styleCache: make(map[int]*grid.StyleDescriptor),
		dateStyle:  make(map[int]bool),
	}, nil
}

func (b *xlsxBook) Close() error {
	return b.f.Close()
}

// releaseParsed drops excelize's parsed-worksheet cache. Cell-level lookups
// (formula, style, raw value) unmarshal the whole worksheet on first touch
// and the cache never evicts on its own, so without this every visited sheet
// stays resident for the document's lifetime. Dropping the cache after each
// sheet keeps at most one parsed worksheet alive alongside the container
// bytes; a later lookup re-parses from the archive.
func (b *xlsxBook) releaseParsed() {
	b.f.Sheet.Range(func(key, _ any) bool {
		b.f.Sheet.Delete(key)
		return true
	})
}

func (b *xlsxBook) Sheets() []SheetInfo {
	names := b.f.GetSheetList()
	infos := make([]SheetInfo, 0, len(names))
	for i, name := range names {
		info := SheetInfo{
			Index:            i,
			Name:             name,
			DefaultRowHeight: defaultRowHeight,
			DefaultColWidth:  defaultColWidth,
		}
		if visible, err := b.f.GetSheetVisible(name); err == nil {
			info.Hidden = !visible
		}
		if props, err := b.f.GetSheetProps(name); err == nil {
			if props.DefaultRowHeight != nil {
				info.DefaultRowHeight = *props.DefaultRowHeight
			}
			if props.DefaultColWidth != nil {
				info.DefaultColWidth = *props.DefaultColWidth
			}
		}
		info.Merges = b.merges(name)
		info.Freeze = b.freeze(name)
		info.ColumnWidths, info.HiddenColumns = b.columnLayout(name, info.DefaultColWidth)
		infos = append(infos, info)

		// Merge/pane/column lookups parsed this sheet; release it before
		// moving to the next one.
		b.releaseParsed()
	}
	return infos
}

// merges reads the sheet's merged ranges as 0-indexed inclusive regions.
func (b *xlsxBook) merges(sheet string) []grid.MergeRegion {
	cells, err := b.f.GetMergeCells(sheet)
	if err != nil || len(cells) == 0 {
		return nil
	}
	regions := make([]grid.MergeRegion, 0, len(cells))
	for _, mc := range cells {
		sc, sr, err1 := parseCellRef(mc.GetStartAxis())
		ec, er, err2 := parseCellRef(mc.GetEndAxis())
		if err1 != nil || err2 != nil {
			continue
		}
		regions = append(regions, grid.MergeRegion{
			StartRow:    sr - 1,
			StartColumn: sc - 1,
			EndRow:      er - 1,
			EndColumn:   ec - 1,
		})
	}
	return regions
}

func (b *xlsxBook) freeze(sheet string) *grid.FreezePane {
	panes, err := b.f.GetPanes(sheet)
	if err != nil || !panes.Freeze {
		return nil
	}
	if panes.XSplit <= 0 && panes.YSplit <= 0 {
		return nil
	}
	fp := &grid.FreezePane{}
	if panes.YSplit > 0 {
		fp.StartRow = panes.YSplit
	}
	if panes.XSplit > 0 {
		fp.StartColumn = panes.XSplit
	}
	return fp
}

// columnLayout collects non-default column widths and hidden flags, sparse
// and 0-indexed. The scan is bounded by the sheet dimension.
func (b *xlsxBook) columnLayout(sheet string, defWidth float64) (map[int]float64, map[int]bool) {
	maxCol := b.dimensionCols(sheet)
	var widths map[int]float64
	var hidden map[int]bool
	for c := 1; c <= maxCol; c++ {
		name, err := excelize.ColumnNumberToName(c)
		if err != nil {
			continue
		}
		if w, err := b.f.GetColWidth(sheet, name); err == nil && w != defWidth {
			if widths == nil {
				widths = make(map[int]float64)
			}
			widths[c-1] = w
		}
		if visible, err := b.f.GetColVisible(sheet, name); err == nil && !visible {
			if hidden == nil {
				hidden = make(map[int]bool)
			}
			hidden[c-1] = true
		}
	}
	return widths, hidden
}

// dimensionCols returns the column count of the sheet's used range.
func (b *xlsxBook) dimensionCols(sheet string) int {
	dim, err := b.f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return 0
	}
	ref := dim
	if idx := strings.Index(dim, ":"); idx >= 0 {
		ref = dim[idx+1:]
	}
	col, _, err := parseCellRef(ref)
	if err != nil {
		return 0
	}
	return col
}

func (b *xlsxBook) EachRow(sheet SheetInfo, fn RowVisitor) (err error) {
	defer b.releaseParsed()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sheet %q: %v", ErrCorruptWorkbook, sheet.Name, r)
		}
	}()

	rows, err := b.f.Rows(sheet.Name)
	if err != nil {
		return fmt.Errorf("open row stream for sheet %q: %w", sheet.Name, err)
	}
	defer rows.Close()

	idx := 0
	for rows.Next() {
		idx++
		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("%w: sheet %q row %d: %v", ErrCorruptWorkbook, sheet.Name, idx, err)
		}
		src := SourceRow{Index: idx}
		opts := rows.GetRowOpts()
		src.Height = opts.Height
		src.Hidden = opts.Hidden
		for ci, formatted := range cols {
			cell, ok := b.sourceCell(sheet.Name, ci+1, idx, formatted)
			if ok {
				src.Cells = append(src.Cells, cell)
			}
		}
		if err := fn(src); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("%w: sheet %q row stream: %v", ErrCorruptWorkbook, sheet.Name, err)
	}
	return nil
}

// sourceCell resolves one populated cell: value, formula and style. Returns
// ok=false for cells with nothing to carry.
func (b *xlsxBook) sourceCell(sheet string, col, row int, formatted string) (SourceCell, bool) {
	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return SourceCell{}, false
	}
	formula, _ := b.f.GetCellFormula(sheet, axis)
	styleID, _ := b.f.GetCellStyle(sheet, axis)
	style := b.styleDescriptor(styleID)

	if formatted == "" && formula == "" && style == nil {
		return SourceCell{}, false
	}

	cell := SourceCell{
		Column:  col,
		Formula: formula,
		Style:   style,
	}
	if formatted != "" {
		cell.Value = b.resolveValue(sheet, axis, styleID, formatted)
	}
	return cell, true
}

// resolveValue converts the raw cell content into a typed Go value: float64
// for numbers, bool for booleans, time.Time for date-formatted serials, and
// string for everything else (rich-text runs arrive already concatenated).
func (b *xlsxBook) resolveValue(sheet, axis string, styleID int, formatted string) any {
	ctype, err := b.f.GetCellType(sheet, axis)
	if err != nil {
		return formatted
	}
	switch ctype {
	case excelize.CellTypeBool:
		raw, _ := b.f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeDate:
		return b.serialToTime(sheet, axis, formatted)
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		raw, _ := b.f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return formatted
		}
		// Date cells are plain serial numbers distinguished only by their
		// number format.
		if b.dateStyle[styleID] {
			if t, err := excelize.ExcelDateToTime(v, false); err == nil {
				return t
			}
		}
		return v
	default:
		return formatted
	}
}

func (b *xlsxBook) serialToTime(sheet, axis, formatted string) any {
	raw, _ := b.f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return formatted
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return formatted
	}
	return t
}

// styleDescriptor resolves an excelize style id into a canonical descriptor,
// caching results. Returns nil for all-default styles.
func (b *xlsxBook) styleDescriptor(styleID int) *grid.StyleDescriptor {
	if styleID == 0 {
		return nil
	}
	if sd, ok := b.styleCache[styleID]; ok {
		return sd
	}
	style, err := b.f.GetStyle(styleID)
	if err != nil || style == nil {
		b.styleCache[styleID] = nil
		return nil
	}

	sd := &grid.StyleDescriptor{}
	if f := style.Font; f != nil {
		sd.Bold = f.Bold
		sd.Italic = f.Italic
		sd.Underline = f.Underline != "" && f.Underline != "none"
		sd.Strike = f.Strike
		sd.FontFamily = f.Family
		sd.FontSize = f.Size
		sd.Color = normalizeColor(f.Color)
	}
	if len(style.Fill.Color) > 0 && style.Fill.Pattern > 0 {
		sd.Background = normalizeColor(style.Fill.Color[0])
	}
	if a := style.Alignment; a != nil {
		sd.HAlign = a.Horizontal
		sd.VAlign = a.Vertical
		sd.Wrap = a.WrapText
		sd.Rotation = a.TextRotation
	}
	sd.Border = convertBorders(style.Border)
	sd.NumberFormat = numberFormat(style)
	b.dateStyle[styleID] = isDateFormat(style, sd.NumberFormat)

	if sd.IsZero() {
		sd = nil
	}
	b.styleCache[styleID] = sd
	return sd
}

func convertBorders(borders []excelize.Border) *grid.Borders {
	var out grid.Borders
	for _, bd := range borders {
		if bd.Style <= 0 || bd.Style >= len(borderClasses) {
			continue
		}
		edge := &grid.BorderEdge{
			Style: borderClasses[bd.Style],
			Color: normalizeColor(bd.Color),
		}
		switch bd.Type {
		case "top":
			out.Top = edge
		case "bottom":
			out.Bottom = edge
		case "left":
			out.Left = edge
		case "right":
			out.Right = edge
		}
	}
	if out.IsZero() {
		return nil
	}
	return &out
}

func numberFormat(style *excelize.Style) string {
	if style.CustomNumFmt != nil && *style.CustomNumFmt != "" {
		return *style.CustomNumFmt
	}
	if pattern, ok := builtinNumFmt[style.NumFmt]; ok {
		return pattern
	}
	return ""
}

// isDateFormat reports whether the style renders serial numbers as dates or
// times, either via a built-in date format id or a custom pattern carrying
// date tokens.
func isDateFormat(style *excelize.Style, pattern string) bool {
	if dateNumFmtIDs[style.NumFmt] {
		return true
	}
	if style.CustomNumFmt == nil || pattern == "" {
		return false
	}
	p := strings.ToLower(pattern)
	// Strip quoted literals and color sections before probing for tokens.
	if i := strings.IndexByte(p, '"'); i >= 0 {
		p = p[:i]
	}
	return strings.ContainsAny(p, "ymdh") && !strings.Contains(p, "#") && !strings.Contains(p, "0")
}

// normalizeColor canonicalizes a color to "#RRGGBB". Excelize may report
// colors as "RRGGBB" or ARGB "FFRRGGBB", with or without the hash.
func normalizeColor(c string) string {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) == 8 {
		c = c[2:]
	}
	if len(c) != 6 {
		return ""
	}
	return "#" + strings.ToUpper(c)
}

func (b *xlsxBook) Pictures(sheet SheetInfo) (pics []Picture, err error) {
	defer b.releaseParsed()
	defer func() {
		if r := recover(); r != nil {
			pics = nil
			err = fmt.Errorf("extract pictures from sheet %q: %v", sheet.Name, r)
		}
	}()

	cells, err := b.f.GetPictureCells(sheet.Name)
	if err != nil {
		return nil, fmt.Errorf("list picture cells of sheet %q: %w", sheet.Name, err)
	}
	for _, cell := range cells {
		found, err := b.f.GetPictures(sheet.Name, cell)
		if err != nil {
			return nil, fmt.Errorf("read pictures at %s!%s: %w", sheet.Name, cell, err)
		}
		for _, p := range found {
			if len(p.File) == 0 {
				continue
			}
			pics = append(pics, Picture{
				Sheet:     sheet.Name,
				Cell:      cell,
				Extension: strings.ToLower(p.Extension),
				Data:      p.File,
			})
		}
	}
	return pics, nil
}
