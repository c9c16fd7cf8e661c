package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/painter"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSyncTimeRoundTrip(t *testing.T) {
	db := openTestDB(t)
	key := "https://example.invalid/data.bin"

	if _, found, err := db.GetSyncTime(key); err != nil || found {
		t.Fatalf("expected no sync time recorded yet, found=%v err=%v", found, err)
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := db.PutSyncTime(key, now); err != nil {
		t.Fatal(err)
	}
	got, found, err := db.GetSyncTime(key)
	if err != nil || !found {
		t.Fatalf("expected sync time to be found, err=%v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
}

func TestPainterConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)
	key := "dataset-a"

	geo := geometry.New(10 * geometry.MinChunkSize)
	cfg := painter.DefaultConfig(geo)
	cfg.VerifyRetries = 7

	if err := db.PutPainterConfig(key, cfg); err != nil {
		t.Fatal(err)
	}
	got, found, err := db.GetPainterConfig(key)
	if err != nil || !found {
		t.Fatalf("expected config to be found, err=%v", err)
	}
	if got.VerifyRetries != 7 {
		t.Fatalf("expected VerifyRetries=7, got %d", got.VerifyRetries)
	}
}

func TestFooterCacheRoundTrip(t *testing.T) {
	db := openTestDB(t)
	key := "dataset-b"

	footer := merkletree.Footer{
		ChunkSize:  geometry.MinChunkSize,
		TotalSize:  3 * geometry.MinChunkSize,
		BitsetSize: 1,
		TreeDigest: [merkletree.HashSize]byte{1, 2, 3},
	}
	if err := db.PutFooter(key, footer); err != nil {
		t.Fatal(err)
	}
	got, found, err := db.GetFooter(key)
	if err != nil || !found {
		t.Fatalf("expected footer to be found, err=%v", err)
	}
	if !got.Equal(footer) {
		t.Fatal("round-tripped footer does not match original")
	}

	if err := db.DeleteFooter(key); err != nil {
		t.Fatal(err)
	}
	if _, found, err := db.GetFooter(key); err != nil || found {
		t.Fatalf("expected footer to be gone after delete, found=%v err=%v", found, err)
	}
}
