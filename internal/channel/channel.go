// Package channel implements the verified channel of spec.md §4.6: a
// random-access read surface over a dataset whose bytes are fetched,
// verified against a Merkle reference tree, and durably cached on demand.
package channel

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
	"github.com/nosqlbench/nbdatatools-sub006/internal/painter"
	"github.com/nosqlbench/nbdatatools-sub006/internal/refsync"
	"github.com/nosqlbench/nbdatatools-sub006/internal/shadow"
	"github.com/nosqlbench/nbdatatools-sub006/internal/store"
)

// syncFreshnessWindow bounds how long a cached footer match is trusted
// without even asking the origin for a fresh footer probe. A dataset
// reopened within this window and whose local reference footer still
// matches the one last recorded in the cache's metadata store skips
// refsync.Sync's network round trip entirely.
const syncFreshnessWindow = 5 * time.Minute

// Channel is a read-only, verified view of one remote dataset. All reads
// are served from local content once the covering chunks are verified;
// unverified chunks are fetched and verified on demand through a Painter.
type Channel struct {
	geo     *geometry.Geometry
	ref     *merkletree.Tree
	local   *merkletree.Tree
	shadow  *shadow.Shadow
	painter *painter.Painter
	content *os.File
	metaDB  *store.SharedDB

	paths Paths
}

// Paths collects the on-disk locations a Channel owns.
type Paths struct {
	Ref     string // P.mref: the acquired reference tree
	Local   string // P.mrkl: the locally-computed tree over cached bytes
	Content string // P: the cached content bytes
	Shadow  string // P.shadow: the verified-chunk bitmap
}

// PathsFor derives the standard cache-relative paths for a content URL's
// basename rooted at cacheDir.
func PathsFor(cacheDir, contentURL string) Paths {
	base := path.Base(contentURL)
	return Paths{
		Ref:     filepath.Join(cacheDir, base+".mref"),
		Local:   filepath.Join(cacheDir, base+".mrkl"),
		Content: filepath.Join(cacheDir, base),
		Shadow:  filepath.Join(cacheDir, base+".shadow"),
	}
}

// Open acquires (or cheaply confirms) the reference tree for contentURL,
// opens or creates the local tree and content cache under cacheDir, and
// constructs a Channel ready to serve verified reads.
func Open(client refsync.HTTPDoer, contentURL, cacheDir string, cfg *painter.Config) (*Channel, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, nbdterr.Wrap(nbdterr.Io, err, "create cache dir %s", cacheDir)
	}
	paths := PathsFor(cacheDir, contentURL)

	metaDB, err := store.GetSharedDB(cacheDir)
	if err != nil {
		return nil, nbdterr.Wrap(nbdterr.Io, err, "open metadata store under %s", cacheDir)
	}

	if err := syncReference(client, contentURL, paths.Ref, metaDB); err != nil {
		metaDB.Close()
		return nil, err
	}
	if err := refsync.EnsureContentFile(paths.Content); err != nil {
		metaDB.Close()
		return nil, err
	}

	ref, err := merkletree.Load(paths.Ref)
	if err != nil {
		metaDB.Close()
		return nil, err
	}
	geo := ref.Geometry()

	local, err := openOrCreateLocal(paths.Local, geo.TotalSize())
	if err != nil {
		ref.Close()
		metaDB.Close()
		return nil, err
	}

	content, err := os.OpenFile(paths.Content, os.O_RDWR, 0644)
	if err != nil {
		ref.Close()
		local.Close()
		metaDB.Close()
		return nil, nbdterr.Wrap(nbdterr.Io, err, "open content file %s", paths.Content)
	}

	sh, err := shadow.Open(ref, local, content, paths.Shadow)
	if err != nil {
		ref.Close()
		local.Close()
		content.Close()
		metaDB.Close()
		return nil, err
	}

	if newer, err := refsync.ContentNewerThanLocalTree(paths.Content, paths.Local); err == nil && newer {
		if err := sh.RebuildFromContent(); err != nil {
			ref.Close()
			local.Close()
			content.Close()
			metaDB.Close()
			return nil, err
		}
	}

	painterCfg := painter.DefaultConfig(geo)
	if stored, found, err := metaDB.GetPainterConfig(contentURL); err == nil && found {
		painterCfg = stored
	}
	if cfg != nil {
		painterCfg = *cfg
	}
	p := painter.New(geo, sh, client, contentURL, painterCfg)

	return &Channel{
		geo:     geo,
		ref:     ref,
		local:   local,
		shadow:  sh,
		painter: p,
		content: content,
		metaDB:  metaDB,
		paths:   paths,
	}, nil
}

// syncReference acquires or confirms contentURL's reference tree at
// refPath. If the metadata store has a footer cached for contentURL from
// within syncFreshnessWindow and it matches the footer already on disk at
// refPath, the origin round trip in refsync.Sync is skipped entirely;
// otherwise it delegates to refsync.Sync and records the resulting footer
// and sync time for next time.
func syncReference(client refsync.HTTPDoer, contentURL, refPath string, db *store.SharedDB) error {
	if syncTime, found, err := db.GetSyncTime(contentURL); err == nil && found && time.Since(syncTime) < syncFreshnessWindow {
		if cached, found, err := db.GetFooter(contentURL); err == nil && found {
			if local, err := merkletree.ReadFooterFromFile(refPath); err == nil && local.Equal(cached) {
				return nil
			}
		}
	}

	if err := refsync.Sync(client, contentURL, refPath); err != nil {
		return err
	}

	if footer, err := merkletree.ReadFooterFromFile(refPath); err == nil {
		_ = db.PutFooter(contentURL, footer)
		_ = db.PutSyncTime(contentURL, time.Now())
	}
	return nil
}

func openOrCreateLocal(path string, totalSize int64) (*merkletree.Tree, error) {
	if _, err := os.Stat(path); err == nil {
		if tr, err := merkletree.Load(path); err == nil {
			return tr, nil
		}
		// Fall through: an unreadable or stale local tree is rebuilt fresh.
	}
	return merkletree.CreateEmpty(totalSize, path)
}

// Size returns the dataset's total byte length.
func (c *Channel) Size() int64 { return c.geo.TotalSize() }

// ReadAt implements io.ReaderAt: it blocks (with a background context)
// until every chunk overlapping [off, off+len(buf)) is verified, then
// serves the bytes from the local content cache. Unlike the io.ReaderAt
// contract, a read that runs past the end of the dataset returns the bytes
// up to the end with a nil error.
func (c *Channel) ReadAt(buf []byte, off int64) (int, error) {
	return c.ReadAtContext(context.Background(), buf, off)
}

// ReadAtContext is ReadAt with a cancellable context, for callers that want
// to bound how long they wait on the network.
func (c *Channel) ReadAtContext(ctx context.Context, buf []byte, off int64) (int, error) {
	if off < 0 || off > c.geo.TotalSize() {
		return 0, nbdterr.New(nbdterr.InvalidArgument, "read offset %d out of range [0,%d]", off, c.geo.TotalSize())
	}
	end := off + int64(len(buf))
	if end > c.geo.TotalSize() {
		end = c.geo.TotalSize()
	}
	if end <= off {
		return 0, nil
	}

	if err := c.painter.Paint(ctx, off, end); err != nil {
		return 0, err
	}

	n, err := c.content.ReadAt(buf[:end-off], off)
	if err != nil {
		return n, nbdterr.Wrap(nbdterr.Io, err, "read content file at offset %d", off)
	}
	return n, nil
}

// Prebuffer schedules chunks covering [off, off+length) for fetch and
// verification without blocking the caller, per spec.md §4.5's async paint.
func (c *Channel) Prebuffer(ctx context.Context, off, length int64) *painter.Progress {
	end := off + length
	if end > c.geo.TotalSize() {
		end = c.geo.TotalSize()
	}
	return c.painter.PaintAsync(ctx, off, end)
}

// AwaitAll blocks until all in-flight prebuffer/read fetches have resolved.
func (c *Channel) AwaitAll(ctx context.Context) error {
	return c.painter.AwaitAll(ctx)
}

// Stat reports the channel's current geometry and verification progress.
type Stat struct {
	TotalSize      int64
	ChunkSize      int64
	TotalChunks    int64
	VerifiedChunks int64
}

// Stat returns a snapshot of the channel's verification progress.
func (c *Channel) Stat() Stat {
	return Stat{
		TotalSize:      c.geo.TotalSize(),
		ChunkSize:      c.geo.ChunkSize(),
		TotalChunks:    c.geo.TotalChunks(),
		VerifiedChunks: c.shadow.VerifiedCount(),
	}
}

// WriteAt, Truncate, and Lock are unsupported: a Channel is a read-only
// view over a remote dataset, per spec.md §4.6's Non-goals.

func (c *Channel) WriteAt(_ []byte, _ int64) (int, error) {
	return 0, nbdterr.New(nbdterr.Unsupported, "channel is read-only")
}

func (c *Channel) Truncate(_ int64) error {
	return nbdterr.New(nbdterr.Unsupported, "channel does not support truncate")
}

func (c *Channel) Lock() error {
	return nbdterr.New(nbdterr.Unsupported, "channel does not support locking")
}

// Close flushes and releases every resource the channel owns.
func (c *Channel) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(c.shadow.Close())
	record(c.local.Close())
	record(c.ref.Close())
	record(c.content.Close())
	record(c.metaDB.Close())
	return firstErr
}
