package errlog

import (
	"os"
	"strings"
	"testing"
)

func initTestLogger(t *testing.T) string {
	t.Helper()
	Close()
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(Close)
	return dir
}

func TestLogfWritesErrorLines(t *testing.T) {
	initTestLogger(t)

	Logf("[Ingest] run %s failed: %v", "abc", "corrupt workbook container")
	Logf("plain message")

	data, err := os.ReadFile(Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[ERROR] [Ingest] run abc failed") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "[ERROR] plain message") {
		t.Fatalf("line 1 = %q", lines[1])
	}
}

func TestLogfBeforeInitIsIgnored(t *testing.T) {
	Close()
	Logf("dropped silently")
	if Path() != "" {
		t.Fatalf("path = %q before init", Path())
	}
}

func TestRecentLinesChronological(t *testing.T) {
	initTestLogger(t)

	for _, msg := range []string{"first", "second", "third"} {
		Logf("%s", msg)
	}

	lines, err := RecentLines(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[0], "second") || !strings.HasSuffix(lines[1], "third") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	dir := initTestLogger(t)
	if err := Init(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	// Second Init must not redirect the running logger.
	if !strings.HasPrefix(Path(), dir) {
		t.Fatalf("path moved to %q", Path())
	}
}
