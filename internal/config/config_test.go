package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"pgregory.net/rapid"
)

func newTestManager(t *testing.T) (*ConfigManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	return NewConfigManager(path), path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}

	cfg := cm.Get()
	if cfg.Server.Port != 8080 || cfg.Store.Backend != "fs" {
		t.Fatalf("defaults %+v", cfg)
	}
	if cfg.Ingest.ChunkSize != 2000 || !cfg.Ingest.ExtractAssets {
		t.Fatalf("ingest defaults %+v", cfg.Ingest)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	cm, path := newTestManager(t)
	partial := `{"server":{"port":9090}}`
	if err := os.WriteFile(path, []byte(partial), 0600); err != nil {
		t.Fatal(err)
	}
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}

	cfg := cm.Get()
	if cfg.Server.Port != 9090 {
		t.Fatalf("explicit port lost: %d", cfg.Server.Port)
	}
	if cfg.Ingest.ChunkSize != 2000 || cfg.Store.RetryAttempts != 3 {
		t.Fatalf("defaults not applied %+v", cfg)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	cm, path := newTestManager(t)
	os.WriteFile(path, []byte("{broken"), 0600)
	if err := cm.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestUpdatePersists(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}

	err := cm.Update(map[string]interface{}{
		"ingest.chunk_size":     float64(500),
		"store.backend":         "http",
		"store.base_url":        "https://objects.example.com",
		"ingest.extract_assets": false,
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := cm.Get()
	if cfg.Ingest.ChunkSize != 500 || cfg.Store.Backend != "http" || cfg.Ingest.ExtractAssets {
		t.Fatalf("updates not applied %+v", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.Store.BaseURL != "https://objects.example.com" {
		t.Fatalf("update not persisted: %+v", onDisk.Store)
	}
}

func TestUpdateRejectsBadValues(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}

	bad := []map[string]interface{}{
		{"server.port": "eighty"},
		{"server.port": float64(70000)},
		{"store.backend": "s3"},
		{"ingest.chunk_size": float64(-1)},
		{"ingest.asset_quality": float64(101)},
		{"no.such.key": "x"},
	}
	for _, updates := range bad {
		if err := cm.Update(updates); err == nil {
			t.Errorf("update %v accepted", updates)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}
	cfg := cm.Get()
	cfg.Server.Port = 1

	if cm.Get().Server.Port == 1 {
		t.Fatal("Get leaked internal state")
	}
}

func TestPropertyUpdateRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(rt, "port")
		chunkSize := rapid.IntRange(1, 100000).Draw(rt, "chunk_size")
		quality := rapid.IntRange(1, 100).Draw(rt, "quality")

		path := filepath.Join(t.TempDir(), "config.json")
		cm := NewConfigManager(path)
		if err := cm.Load(); err != nil {
			rt.Fatal(err)
		}
		err := cm.Update(map[string]interface{}{
			"server.port":          float64(port),
			"ingest.chunk_size":    float64(chunkSize),
			"ingest.asset_quality": float64(quality),
		})
		if err != nil {
			rt.Fatal(err)
		}

		// A fresh manager reading the same file must see the same values.
		cm2 := NewConfigManager(path)
		if err := cm2.Load(); err != nil {
			rt.Fatal(err)
		}
		cfg := cm2.Get()
		if cfg.Server.Port != port || cfg.Ingest.ChunkSize != chunkSize || cfg.Ingest.AssetQuality != quality {
			rt.Fatalf("round trip lost values: %+v", cfg)
		}
	})
}
