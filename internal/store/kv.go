// Package store provides a small bbolt-backed metadata side-database for
// the transport: per-dataset sync timestamps, painter config overrides, and
// a cache of recently-seen reference footers, so a second Open of the same
// dataset can skip redundant origin round-trips.
package store

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/painter"
)

var (
	// BucketSyncTimes maps a dataset key to the RFC3339Nano timestamp of its
	// last successful reference-tree sync.
	BucketSyncTimes = []byte("sync_times")
	// BucketPainterConfig maps a dataset key to a JSON-encoded painter.Config
	// override.
	BucketPainterConfig = []byte("painter_config")
	// BucketFooterCache maps a dataset key to its most recently observed
	// encoded merkletree.Footer.
	BucketFooterCache = []byte("footer_cache")
)

// DB is the metadata store handle.
type DB struct{ *bbolt.DB }

// Open opens (creating if necessary) the metadata database at path,
// ensuring all buckets exist.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0666, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{BucketSyncTimes, BucketPainterConfig, BucketFooterCache} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func (db *DB) Close() error { return db.DB.Close() }

// PutSyncTime records the last successful reference-tree sync time for
// datasetKey (typically the content URL).
func (db *DB) PutSyncTime(datasetKey string, t time.Time) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BucketSyncTimes).Put([]byte(datasetKey), []byte(t.Format(time.RFC3339Nano)))
	})
}

// GetSyncTime returns the last recorded sync time for datasetKey, and
// whether one was found.
func (db *DB) GetSyncTime(datasetKey string) (time.Time, bool, error) {
	var t time.Time
	var found bool
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(BucketSyncTimes).Get([]byte(datasetKey))
		if v == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return err
		}
		t, found = parsed, true
		return nil
	})
	return t, found, err
}

// PutPainterConfig stores a per-dataset painter.Config override.
func (db *DB) PutPainterConfig(datasetKey string, cfg painter.Config) error {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BucketPainterConfig).Put([]byte(datasetKey), encoded)
	})
}

// GetPainterConfig retrieves a per-dataset painter.Config override, if one
// was stored.
func (db *DB) GetPainterConfig(datasetKey string) (painter.Config, bool, error) {
	var cfg painter.Config
	var found bool
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(BucketPainterConfig).Get([]byte(datasetKey))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &cfg); err != nil {
			return err
		}
		found = true
		return nil
	})
	return cfg, found, err
}

// PutFooter caches the most recently observed footer for datasetKey.
func (db *DB) PutFooter(datasetKey string, footer merkletree.Footer) error {
	encoded := footer.Encode()
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BucketFooterCache).Put([]byte(datasetKey), encoded)
	})
}

// GetFooter retrieves the cached footer for datasetKey, if present.
func (db *DB) GetFooter(datasetKey string) (merkletree.Footer, bool, error) {
	var footer merkletree.Footer
	var found bool
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(BucketFooterCache).Get([]byte(datasetKey))
		if v == nil {
			return nil
		}
		decoded, err := merkletree.DecodeFooter(v)
		if err != nil {
			return err
		}
		footer, found = decoded, true
		return nil
	})
	return footer, found, err
}

// DeleteFooter removes a cached footer, e.g. after a dataset is evicted.
func (db *DB) DeleteFooter(datasetKey string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BucketFooterCache).Delete([]byte(datasetKey))
	})
}
