package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"costgrid/internal/store"
	"costgrid/internal/workbook"
)

// fakeBook is a canned Workbook for extractor tests.
type fakeBook struct {
	sheets []workbook.SheetInfo
	rows   map[string][]workbook.SourceRow
	pics   map[string][]workbook.Picture
}

func (f *fakeBook) Sheets() []workbook.SheetInfo { return f.sheets }

func (f *fakeBook) EachRow(sheet workbook.SheetInfo, fn workbook.RowVisitor) error {
	for _, r := range f.rows[sheet.Name] {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBook) Pictures(sheet workbook.SheetInfo) ([]workbook.Picture, error) {
	return f.pics[sheet.Name], nil
}

func (f *fakeBook) Close() error { return nil }

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func textRow(index int, text string) workbook.SourceRow {
	return workbook.SourceRow{
		Index: index,
		Cells: []workbook.SourceCell{{Column: 1, Value: text}},
	}
}

func twoSheetBook(detailRows []workbook.SourceRow, pics []workbook.Picture) *fakeBook {
	return &fakeBook{
		sheets: []workbook.SheetInfo{
			{Index: 0, Name: "Presupuesto"},
			{Index: 1, Name: "Graphic Details"},
		},
		rows: map[string][]workbook.SourceRow{"Graphic Details": detailRows},
		pics: map[string][]workbook.Picture{"Graphic Details": pics},
	}
}

func TestExtractorMainSheetNotFound(t *testing.T) {
	wb := &fakeBook{sheets: []workbook.SheetInfo{{Index: 0, Name: "Hoja1"}}}
	ex := NewExtractor(newMemStore(), Options{Prefix: "doc"})
	_, err := ex.Run(context.Background(), wb)
	if !errors.Is(err, ErrMainSheetNotFound) {
		t.Fatalf("err = %v, want ErrMainSheetNotFound", err)
	}
}

func TestExtractorUpwardConceptCodeSearch(t *testing.T) {
	// The code sits two rows above the image anchor; the anchor row itself
	// holds prose.
	rows := []workbook.SourceRow{
		textRow(9, "Chapter 5 works"),
		textRow(10, "5.2.1"),
		textRow(12, "see detail below"),
	}
	pics := []workbook.Picture{
		{Sheet: "Graphic Details", Cell: "D12", Extension: ".png", Data: pngBytes(t, 8, 8)},
	}
	ms := newMemStore()
	ex := NewExtractor(ms, Options{Prefix: "doc"})

	res, err := ex.Run(context.Background(), twoSheetBook(rows, pics))
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("processed=%d failed=%d errors=%+v", res.Processed, res.Failed, res.Errors)
	}
	a := res.Assets[0]
	if a.ConceptCode != "5.2.1" {
		t.Fatalf("concept code = %q, want 5.2.1", a.ConceptCode)
	}
	if !strings.HasPrefix(a.ID, "img-5.2.1-") {
		t.Fatalf("asset id = %q", a.ID)
	}
	if a.Key != "doc/assets/"+a.ID+".jpg" {
		t.Fatalf("asset key = %q", a.Key)
	}
	if a.Format != "jpeg" || a.Width != 8 || a.Height != 8 {
		t.Fatalf("asset meta %+v", a)
	}
	if _, ok := ms.objects[a.Key]; !ok {
		t.Fatal("re-encoded image not stored")
	}
}

func TestExtractorSameRowCodeWins(t *testing.T) {
	rows := []workbook.SourceRow{
		textRow(3, "2.1"),
		textRow(5, "2.4"),
	}
	pics := []workbook.Picture{
		{Sheet: "Graphic Details", Cell: "B5", Extension: ".png", Data: pngBytes(t, 4, 4)},
	}
	ex := NewExtractor(newMemStore(), Options{Prefix: "doc"})
	res, err := ex.Run(context.Background(), twoSheetBook(rows, pics))
	if err != nil {
		t.Fatal(err)
	}
	if res.Assets[0].ConceptCode != "2.4" {
		t.Fatalf("concept code = %q, want 2.4", res.Assets[0].ConceptCode)
	}
}

func TestExtractorSheetNameFallback(t *testing.T) {
	pics := []workbook.Picture{
		{Sheet: "Graphic Details", Cell: "A1", Extension: ".png", Data: pngBytes(t, 4, 4)},
	}
	ex := NewExtractor(newMemStore(), Options{Prefix: "doc"})
	res, err := ex.Run(context.Background(), twoSheetBook(nil, pics))
	if err != nil {
		t.Fatal(err)
	}
	if res.Assets[0].ConceptCode != "graphic-details" {
		t.Fatalf("concept code = %q, want graphic-details", res.Assets[0].ConceptCode)
	}
}

func TestExtractorDeduplicatesIdenticalImages(t *testing.T) {
	img := pngBytes(t, 4, 4)
	rows := []workbook.SourceRow{textRow(1, "3.1")}
	pics := []workbook.Picture{
		{Sheet: "Graphic Details", Cell: "B1", Extension: ".png", Data: img},
		{Sheet: "Graphic Details", Cell: "C1", Extension: ".png", Data: img},
	}
	ex := NewExtractor(newMemStore(), Options{Prefix: "doc"})
	res, err := ex.Run(context.Background(), twoSheetBook(rows, pics))
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || len(res.Assets) != 1 {
		t.Fatalf("duplicate image not collapsed: %+v", res)
	}
}

func TestExtractorUndecodableImageRecordedNotFatal(t *testing.T) {
	rows := []workbook.SourceRow{textRow(1, "1.1")}
	pics := []workbook.Picture{
		{Sheet: "Graphic Details", Cell: "B1", Extension: ".png", Data: []byte("not an image")},
		{Sheet: "Graphic Details", Cell: "B2", Extension: ".png", Data: pngBytes(t, 4, 4)},
	}
	ex := NewExtractor(newMemStore(), Options{Prefix: "doc"})
	res, err := ex.Run(context.Background(), twoSheetBook(rows, pics))
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("processed=%d failed=%d", res.Processed, res.Failed)
	}
	if len(res.Errors) != 1 || res.Errors[0].Type != "asset_decode" {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestExtractorDownscalesLargeImages(t *testing.T) {
	pics := []workbook.Picture{
		{Sheet: "Graphic Details", Cell: "A1", Extension: ".png", Data: pngBytes(t, 64, 16)},
	}
	ex := NewExtractor(newMemStore(), Options{Prefix: "doc", MaxEdge: 32})
	res, err := ex.Run(context.Background(), twoSheetBook(nil, pics))
	if err != nil {
		t.Fatal(err)
	}
	a := res.Assets[0]
	if a.Width != 32 || a.Height != 8 {
		t.Fatalf("downscaled to %dx%d, want 32x8", a.Width, a.Height)
	}
}

func TestMatchCode(t *testing.T) {
	valid := []string{"1", "5.2", "5.2.4.1", " 10.03 ", "7."}
	for _, v := range valid {
		if _, ok := matchCode(v); !ok {
			t.Errorf("matchCode(%q) should match", v)
		}
	}
	invalid := []string{"", "chapter 5", "5,2", "a.b", "5..2"}
	for _, v := range invalid {
		if code, ok := matchCode(v); ok {
			t.Errorf("matchCode(%q) matched as %q", v, code)
		}
	}
}
