package registry

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegistryLifecycle(t *testing.T) {
	reg := openTestRegistry(t)

	id, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 32 {
		t.Fatalf("id %q has length %d", id, len(id))
	}
	if err := reg.Insert(id, "estimate.xlsx"); err != nil {
		t.Fatal(err)
	}

	est, err := reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if est.Status != StatusProcessing || est.Name != "estimate.xlsx" || est.Progress != 0 {
		t.Fatalf("fresh estimate %+v", est)
	}

	reg.SetProgress(id, 40, "converting sheet")
	est, _ = reg.Get(id)
	if est.Progress != 40 || est.Message != "converting sheet" {
		t.Fatalf("after progress %+v", est)
	}

	if err := reg.MarkSuccess(id, "estimates/"+id+"/manifest.json", 4500, 3, 2, 1); err != nil {
		t.Fatal(err)
	}
	est, _ = reg.Get(id)
	if est.Status != StatusSuccess || est.Progress != 100 {
		t.Fatalf("after success %+v", est)
	}
	if est.ManifestKey == "" || est.TotalRows != 4500 || est.TotalChunks != 3 {
		t.Fatalf("counters %+v", est)
	}
	if est.ImagesProcessed != 2 || est.ImagesFailed != 1 {
		t.Fatalf("image counters %+v", est)
	}
}

func TestRegistryMarkFailed(t *testing.T) {
	reg := openTestRegistry(t)

	id, _ := NewID()
	reg.Insert(id, "broken.xls")
	if err := reg.MarkFailed(id, errors.New("corrupt workbook container")); err != nil {
		t.Fatal(err)
	}

	est, err := reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if est.Status != StatusFailed || est.Error != "corrupt workbook container" {
		t.Fatalf("failed estimate %+v", est)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := openTestRegistry(t)
	_, err := reg.Get("00000000000000000000000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	reg := openTestRegistry(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := NewID()
		if err := reg.Insert(id, "file.xlsx"); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	list, err := reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("listed %d estimates", len(list))
	}
	seen := map[string]bool{}
	for _, est := range list {
		seen[est.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("estimate %s missing from list", id)
		}
	}
}

func TestRegistryOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	reg1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := NewID()
	reg1.Insert(id, "keep.xlsx")
	reg1.Close()

	reg2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reg2.Close()
	if _, err := reg2.Get(id); err != nil {
		t.Fatalf("row lost across reopen: %v", err)
	}
}
