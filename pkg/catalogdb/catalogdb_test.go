package catalogdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/batchlog"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "db", "catalog.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileChecksumKnownValue(t *testing.T) {
	// CRC-16/ARC check value
	path := writeFile(t, "check.txt", "123456789")
	sum, err := FileChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 0xBB3D {
		t.Errorf("expected 0xBB3D, got %#04x", sum)
	}
}

func TestRecordAndList(t *testing.T) {
	c := openTestCatalog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var paths []string
	for i := 0; i < 3; i++ {
		path := writeFile(t, "batch.csv", "timestamp_utc\nrow\n")
		paths = append(paths, path)
		start := base.Add(time.Duration(i) * 10 * time.Minute)
		rec, err := c.RecordBatchFile(batchlog.ClosedFile{
			Path:        path,
			Device:      "amsky01",
			WindowStart: start,
			WindowEnd:   start.Add(10 * time.Minute),
			Rows:        i + 1,
		}, "run-1")
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if rec.ID == 0 {
			t.Errorf("expected an id")
		}
	}

	all, err := c.ListBatchFiles(time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 files, got %d", len(all))
	}
	for i, f := range all {
		if f.Path != paths[i] || f.Rows != i+1 || f.RunID != "run-1" {
			t.Errorf("row %d mismatch: %+v", i, f)
		}
		ok, err := f.Verify()
		if err != nil || !ok {
			t.Errorf("row %d failed verification: %v", i, err)
		}
	}

	recent, err := c.ListBatchFiles(base.Add(10 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 recent files, got %d", len(recent))
	}
}

func TestVerifyDetectsChange(t *testing.T) {
	c := openTestCatalog(t)
	path := writeFile(t, "batch.csv", "a,b\n1,2\n")
	rec, err := c.RecordBatchFile(batchlog.ClosedFile{Path: path, Device: "d", Rows: 1}, "run")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a,b\n1,3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, err := rec.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected checksum mismatch after modification")
	}
}

func TestRecordMissingFile(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.RecordBatchFile(batchlog.ClosedFile{Path: filepath.Join(t.TempDir(), "gone.csv")}, "run")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
