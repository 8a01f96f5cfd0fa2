// Package assets extracts embedded images from non-primary workbook sheets,
// re-encodes them, and associates each with the estimate concept code found
// by searching the leftmost column of the anchor row, then upward, then
// falling back to the sheet name.
package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"costgrid/internal/grid"
	"costgrid/internal/store"
	"costgrid/internal/workbook"
)

// ErrMainSheetNotFound marks a workbook with no sheet matching the main
// estimate sheet allow-list.
var ErrMainSheetNotFound = errors.New("main estimate sheet not found")

// mainSheetNames are the expected names of the primary estimate sheet across
// the product's markets. Exact case-insensitive match is preferred; a
// substring match is the fallback.
var mainSheetNames = []string{
	"estimate", "presupuesto", "budget", "mediciones", "bill of quantities",
}

// conceptCodeRe matches dotted numeric estimate line identifiers like
// "5.2.4.1".
var conceptCodeRe = regexp.MustCompile(`^\d+(\.\d+)*$`)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Options tune the extraction run.
type Options struct {
	// Prefix is the storage key prefix shared with the chunk writer.
	Prefix string
	// MaxEdge caps the longer image edge in pixels; images are only ever
	// downscaled, never upscaled.
	MaxEdge int
	// Quality is the JPEG re-encode quality.
	Quality int
	// Concurrency bounds parallel uploads.
	Concurrency int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxEdge <= 0 {
		out.MaxEdge = 1600
	}
	if out.Quality <= 0 {
		out.Quality = 85
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 3
	}
	return out
}

// Result summarizes one extraction run. Per-asset failures accumulate in
// Errors without aborting the run.
type Result struct {
	Assets    []grid.Asset
	Errors    []grid.IngestError
	Processed int
	Failed    int
}

// Extractor scans every sheet except the main one for embedded pictures.
type Extractor struct {
	store store.Store
	opts  Options
}

// NewExtractor creates an extractor writing re-encoded assets to st.
func NewExtractor(st store.Store, opts Options) *Extractor {
	return &Extractor{store: st, opts: opts.withDefaults()}
}

type task struct {
	pic  workbook.Picture
	code string
}

// Run scans the workbook and uploads re-encoded assets with bounded
// parallelism. It fails only when the main sheet cannot be identified;
// individual asset failures are accumulated, never fatal.
func (e *Extractor) Run(ctx context.Context, wb workbook.Workbook) (*Result, error) {
	sheets := wb.Sheets()
	main, err := findMainSheet(sheets)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var tasks []task
	for _, sheet := range sheets {
		if sheet.Index == main.Index {
			continue
		}
		pics, err := wb.Pictures(sheet)
		if err != nil {
			res.Errors = append(res.Errors, ingestError(sheet.Name, "", "asset_scan", err))
			continue
		}
		if len(pics) == 0 {
			continue
		}
		colA := collectColumnA(wb, sheet)
		for _, pic := range pics {
			tasks = append(tasks, task{pic: pic, code: e.conceptCode(colA, pic, sheet.Name)})
		}
	}
	if len(tasks) == 0 {
		return res, nil
	}
	log.Printf("[Assets] main sheet %q, %d images queued", main.Name, len(tasks))

	var mu sync.Mutex
	seen := make(map[string]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			e.process(gctx, t, res, &mu, seen)
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("[Assets] done: %d uploaded, %d failed", res.Processed, res.Failed)
	return res, nil
}

// process re-encodes and uploads one image. All failures are recorded, not
// returned: one bad asset must not abort the others.
func (e *Extractor) process(ctx context.Context, t task, res *Result, mu *sync.Mutex, seen map[string]bool) {
	sum := sha256.Sum256(t.pic.Data)
	id := fmt.Sprintf("img-%s-%s", t.code, hex.EncodeToString(sum[:4]))

	mu.Lock()
	if seen[id] {
		mu.Unlock()
		return
	}
	seen[id] = true
	mu.Unlock()

	encoded, w, h, err := e.reencode(t.pic.Data)
	if err != nil {
		mu.Lock()
		res.Errors = append(res.Errors, ingestError(t.pic.Sheet, id, "asset_decode", err))
		res.Failed++
		mu.Unlock()
		return
	}

	key := fmt.Sprintf("%s/assets/%s.jpg", e.opts.Prefix, id)
	if err := e.store.Put(ctx, key, encoded, "image/jpeg"); err != nil {
		mu.Lock()
		res.Errors = append(res.Errors, ingestError(t.pic.Sheet, id, "asset_upload", err))
		res.Failed++
		mu.Unlock()
		return
	}

	mu.Lock()
	res.Assets = append(res.Assets, grid.Asset{
		ID:          id,
		ConceptCode: t.code,
		Sheet:       t.pic.Sheet,
		CellRef:     t.pic.Cell,
		Format:      "jpeg",
		Width:       w,
		Height:      h,
		Key:         key,
	})
	res.Processed++
	mu.Unlock()
}

// reencode decodes the raw image, downscales it if the longer edge exceeds
// MaxEdge, and encodes it as JPEG.
func (e *Extractor) reencode(data []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("decode image: empty bounds")
	}

	longer := w
	if h > longer {
		longer = h
	}
	if longer > e.opts.MaxEdge {
		scale := float64(e.opts.MaxEdge) / float64(longer)
		nw := int(float64(w) * scale)
		nh := int(float64(h) * scale)
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, xdraw.Over, nil)
		img = scaled
		w, h = nw, nh
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.opts.Quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), w, h, nil
}

// conceptCode resolves the estimate line code for a picture: same-row
// column-A value if it is a dotted numeric code, else the nearest matching
// column-A value scanning upward, else the slugified sheet name.
func (e *Extractor) conceptCode(colA map[int]string, pic workbook.Picture, sheetName string) string {
	_, row, err := workbook.ParseCellRef(pic.Cell)
	if err != nil {
		return slugify(sheetName)
	}
	if code, ok := matchCode(colA[row]); ok {
		return code
	}
	for r := row - 1; r >= 1; r-- {
		if code, ok := matchCode(colA[r]); ok {
			return code
		}
	}
	return slugify(sheetName)
}

func matchCode(v string) (string, bool) {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "."))
	if v != "" && conceptCodeRe.MatchString(v) {
		return v, true
	}
	return "", false
}

// collectColumnA gathers the leftmost column's text per 1-based row index.
func collectColumnA(wb workbook.Workbook, sheet workbook.SheetInfo) map[int]string {
	colA := make(map[int]string)
	_ = wb.EachRow(sheet, func(row workbook.SourceRow) error {
		for _, c := range row.Cells {
			if c.Column != 1 {
				continue
			}
			switch v := c.Value.(type) {
			case string:
				colA[row.Index] = v
			case float64:
				colA[row.Index] = strings.TrimSuffix(fmt.Sprintf("%g", v), ".0")
			}
			break
		}
		return nil
	})
	return colA
}

// findMainSheet identifies the primary estimate sheet by name: exact
// case-insensitive match against the allow-list first, substring match as
// fallback.
func findMainSheet(sheets []workbook.SheetInfo) (workbook.SheetInfo, error) {
	for _, s := range sheets {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		for _, want := range mainSheetNames {
			if name == want {
				return s, nil
			}
		}
	}
	for _, s := range sheets {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		for _, want := range mainSheetNames {
			if strings.Contains(name, want) {
				return s, nil
			}
		}
	}
	return workbook.SheetInfo{}, ErrMainSheetNotFound
}

func slugify(name string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "sheet"
	}
	return slug
}

// ExtractionError wraps a run-level extraction failure (main sheet missing,
// unreadable drawing parts) as a manifest error entry.
func ExtractionError(err error) grid.IngestError {
	return ingestError("", "", "asset_extraction", err)
}

func ingestError(sheet, assetID, typ string, err error) grid.IngestError {
	return grid.IngestError{
		Sheet:     sheet,
		AssetID:   assetID,
		Type:      typ,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
