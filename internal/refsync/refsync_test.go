package refsync

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
)

func buildReferenceBytes(t *testing.T, dir string, data []byte) []byte {
	t.Helper()
	path := filepath.Join(dir, "built.mrkl")
	tr, err := merkletree.BuildFromData(data, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSyncDownloadsAndValidates(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 3*1<<20)
	rand.New(rand.NewSource(5)).Read(data)
	refBytes := buildReferenceBytes(t, dir, data)

	var fullGETs int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			atomic.AddInt32(&fullGETs, 1)
		}
		http.ServeContent(w, r, "data.bin.mrkl", time.Unix(0, 0), bytes.NewReader(refBytes))
	}))
	defer srv.Close()

	refPath := filepath.Join(dir, "data.bin.mref")
	if err := Sync(srv.Client(), srv.URL+"/data.bin", refPath); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&fullGETs) != 1 {
		t.Fatalf("expected exactly one full GET on cold sync, got %d", fullGETs)
	}

	tr, err := merkletree.Load(refPath)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	root, err := tr.RootHash()
	if err != nil {
		t.Fatal(err)
	}
	if root == ([merkletree.HashSize]byte{}) {
		t.Fatal("loaded reference tree root should not be zero")
	}
}

func TestSyncSkipsDownloadWhenFooterMatches(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 2*1<<20)
	rand.New(rand.NewSource(6)).Read(data)
	refBytes := buildReferenceBytes(t, dir, data)

	var fullGETs int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			atomic.AddInt32(&fullGETs, 1)
		}
		http.ServeContent(w, r, "data.bin.mrkl", time.Unix(0, 0), bytes.NewReader(refBytes))
	}))
	defer srv.Close()

	refPath := filepath.Join(dir, "data.bin.mref")
	if err := Sync(srv.Client(), srv.URL+"/data.bin", refPath); err != nil {
		t.Fatal(err)
	}
	if err := Sync(srv.Client(), srv.URL+"/data.bin", refPath); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&fullGETs) != 1 {
		t.Fatalf("expected only the first sync to perform a full GET, got %d full GETs", fullGETs)
	}
}

func TestEnsureContentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := EnsureContentFile(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected zero-length content file, got %d bytes", info.Size())
	}
	// Idempotent: calling again must not fail or truncate existing data.
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureContentFile(path); err != nil {
		t.Fatal(err)
	}
	info, _ = os.Stat(path)
	if info.Size() != 1 {
		t.Fatalf("EnsureContentFile must not touch an existing file")
	}
}

func TestContentNewerThanLocalTree(t *testing.T) {
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "data.bin")
	treePath := filepath.Join(dir, "data.bin.mrkl")

	if err := os.WriteFile(treePath, []byte("tree"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(contentPath, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	newer, err := ContentNewerThanLocalTree(contentPath, treePath)
	if err != nil {
		t.Fatal(err)
	}
	if !newer {
		t.Fatal("expected content file to be newer than local tree file")
	}
}
