package store

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Manager owns one bbolt connection for one cache directory, shared by every
// Channel opened against that directory in this process so they don't
// contend over the same db file's lock.
type Manager struct {
	db     *DB
	dbPath string
	refs   int
}

// managers is keyed by database path rather than holding a single global
// pointer, since one process can open channels against more than one
// dataset's cache directory at once (a long-lived consumer serving several
// datasets does this) — a single-slot singleton would force closing one dataset's db out from under
// it the moment a second cache directory was opened.
var (
	managers  = make(map[string]*Manager)
	managerMu sync.Mutex
)

// GetSharedDB returns a shared metadata database connection for the given
// cache directory. Multiple calls with the same cacheDir, from anywhere in
// this process, return handles to the same underlying connection; the
// connection is reference counted and closed once every caller has released
// its handle.
func GetSharedDB(cacheDir string) (*SharedDB, error) {
	managerMu.Lock()
	defer managerMu.Unlock()

	dbPath := filepath.Join(cacheDir, "metadata.db")

	m, ok := managers[dbPath]
	if !ok {
		db, err := Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open metadata database: %w", err)
		}
		m = &Manager{db: db, dbPath: dbPath}
		managers[dbPath] = m
	}

	m.refs++

	return &SharedDB{manager: m, DB: m.db}, nil
}

// SharedDB wraps a database connection with reference counting.
type SharedDB struct {
	manager *Manager
	*DB
}

// Close decrements the reference count and closes the underlying database
// when no more references exist.
func (sdb *SharedDB) Close() error {
	if sdb.manager == nil {
		return nil
	}

	managerMu.Lock()
	defer managerMu.Unlock()

	sdb.manager.refs--
	if sdb.manager.refs <= 0 {
		delete(managers, sdb.manager.dbPath)
		return sdb.manager.db.Close()
	}

	return nil
}
