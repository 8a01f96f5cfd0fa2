package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"costgrid/internal/grid"
	"costgrid/internal/workbook"
)

func buildWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Estimate"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Estimate", "A1", "Code")
	f.SetCellValue("Estimate", "B1", "Description")
	f.SetCellValue("Estimate", "C1", "Amount")
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FF0000"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellStyle("Estimate", "A1", "C1", headerStyle); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Estimate", "A2", "1.1")
	f.SetCellValue("Estimate", "B2", "Concrete foundation")
	f.SetCellValue("Estimate", "C2", 1250.75)
	f.SetCellValue("Estimate", "C3", true)
	if err := f.MergeCell("Estimate", "A5", "C5"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.NewSheet("Details"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Details", "A1", "note")

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func loadManifest(t *testing.T, ms *memStore, key string) *grid.Manifest {
	t.Helper()
	rc, err := ms.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("manifest %q: %v", key, err)
	}
	defer rc.Close()
	var m grid.Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	return &m
}

func TestPipelineRun(t *testing.T) {
	ms := newMemStore()
	p := NewPipeline(ms)

	var lastPercent int
	res, err := p.Run(context.Background(), buildWorkbook(t), Options{
		OutputPrefix: "estimates/test",
		FileName:     "estimate.xlsx",
		OnProgress:   func(percent int, _ string) { lastPercent = percent },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ManifestKey != "estimates/test/manifest.json" {
		t.Fatalf("manifest key = %q", res.ManifestKey)
	}
	if lastPercent != 100 {
		t.Fatalf("final progress = %d", lastPercent)
	}
	if len(res.Sheets) != 2 {
		t.Fatalf("sheets = %+v", res.Sheets)
	}

	m := loadManifest(t, ms, res.ManifestKey)
	if m.Version != grid.ManifestVersion || m.OriginalFileName != "estimate.xlsx" {
		t.Fatalf("manifest header %+v", m)
	}
	if m.ChunkSize != DefaultChunkSize {
		t.Fatalf("chunk size = %d", m.ChunkSize)
	}
	if len(m.Sheets) != 2 {
		t.Fatalf("manifest sheets %+v", m.Sheets)
	}

	est := m.Sheets[0]
	if est.Name != "Estimate" || est.ID != "sheet-0" {
		t.Fatalf("first sheet %+v", est)
	}
	// Dimensions are padded beyond the data with a floor.
	if est.RowCount < 200 || est.ColumnCount < 26 {
		t.Fatalf("padding missing: rows=%d cols=%d", est.RowCount, est.ColumnCount)
	}
	if len(est.MergeData) != 1 {
		t.Fatalf("merges = %+v", est.MergeData)
	}
	mr := est.MergeData[0]
	if mr.StartRow != 4 || mr.EndRow != 4 || mr.StartColumn != 0 || mr.EndColumn != 2 {
		t.Fatalf("merge region %+v", mr)
	}

	// Reassemble the first sheet's rows from chunks.
	cells := map[int]grid.CellRow{}
	for _, ref := range m.Chunks {
		if ref.SheetID != "sheet-0" {
			continue
		}
		c := ms.chunk(t, ref.Key)
		for _, r := range c.Rows {
			cells[r.R] = r.Data
		}
	}
	if got := cells[1][0].Value; got != "1.1" {
		t.Errorf("A2 = %v, want \"1.1\"", got)
	}
	if got := cells[1][2]; got.Value != 1250.75 || got.Type != grid.TypeNumber {
		t.Errorf("C2 = %+v", got)
	}
	if got := cells[2][2]; got.Value != true || got.Type != grid.TypeBoolean {
		t.Errorf("C3 = %+v", got)
	}

	// Every style reference in the emitted cells resolves in the manifest
	// style table.
	styled := 0
	for _, ref := range m.Chunks {
		c := ms.chunk(t, ref.Key)
		for _, r := range c.Rows {
			for col, cell := range r.Data {
				if cell.StyleRef == "" {
					continue
				}
				styled++
				if _, ok := m.Styles[cell.StyleRef]; !ok {
					t.Errorf("row %d col %d references unknown style %q", r.R, col, cell.StyleRef)
				}
			}
		}
	}
	if styled < 3 {
		t.Fatalf("styled cells = %d, want the 3 header cells", styled)
	}
	ref := cells[0][0].StyleRef
	if ref == "" || cells[0][1].StyleRef != ref || cells[0][2].StyleRef != ref {
		t.Fatalf("header cells should share one style ref, got %q %q %q",
			cells[0][0].StyleRef, cells[0][1].StyleRef, cells[0][2].StyleRef)
	}
	if sd := m.Styles[ref]; sd == nil || !sd.Bold || sd.Background != "#FF0000" {
		t.Fatalf("header style %q = %+v", ref, m.Styles[ref])
	}
}

func TestPipelineCorruptStream(t *testing.T) {
	ms := newMemStore()
	p := NewPipeline(ms)

	_, err := p.Run(context.Background(), strings.NewReader("this is not a workbook at all"), Options{
		OutputPrefix: "estimates/bad",
		FileName:     "bad.xlsx",
	})
	if !errors.Is(err, workbook.ErrCorruptWorkbook) {
		t.Fatalf("err = %v, want ErrCorruptWorkbook", err)
	}
	if _, ok := ms.objects["estimates/bad/manifest.json"]; ok {
		t.Fatal("failed run must not emit a manifest")
	}
}

func TestPipelineCancelledContext(t *testing.T) {
	ms := newMemStore()
	p := NewPipeline(ms)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, buildWorkbook(t), Options{
		OutputPrefix: "estimates/cancelled",
		FileName:     "estimate.xlsx",
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, ok := ms.objects["estimates/cancelled/manifest.json"]; ok {
		t.Fatal("cancelled run must not emit a manifest")
	}
}

// buildFormulaWorkbook hand-assembles a minimal OOXML package whose cell
// carries both a formula and a cached result, which the excelize writer API
// cannot produce directly.
func buildFormulaWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	parts := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>
<Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>
</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`,
		"xl/workbook.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<sheets><sheet name="Estimate" sheetId="1" r:id="rId1"/></sheets>
</workbook>`,
		"xl/_rels/workbook.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
<sheetData>
<row r="1"><c r="A1"><v>5</v></c><c r="B1"><f>A1*2</f><v>10</v></c></row>
</sheetData>
</worksheet>`,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestPipelineKeepsFormulaCachedValue(t *testing.T) {
	ms := newMemStore()
	p := NewPipeline(ms)

	res, err := p.Run(context.Background(), buildFormulaWorkbook(t), Options{
		OutputPrefix: "estimates/formula",
		FileName:     "formula.xlsx",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	m := loadManifest(t, ms, res.ManifestKey)
	if len(m.Chunks) != 1 {
		t.Fatalf("chunks = %+v", m.Chunks)
	}
	c := ms.chunk(t, m.Chunks[0].Key)
	if len(c.Rows) != 1 {
		t.Fatalf("rows = %+v", c.Rows)
	}
	b1 := c.Rows[0].Data[1]
	if b1.Formula != "A1*2" {
		t.Fatalf("B1 formula = %q", b1.Formula)
	}
	if b1.Value != 10.0 || b1.Type != grid.TypeNumber {
		t.Fatalf("B1 cached value = %v (%s), want 10", b1.Value, b1.Type)
	}
}
