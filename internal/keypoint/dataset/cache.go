package dataset

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/monitoring"
)

// Builder produces a record for a shape. RecordStore is the production
// implementation.
type Builder interface {
	Build(id ShapeID) (*Record, error)
}

// RecordCache memoizes Builder output for one split/category/sampling
// configuration and persists it as a single table file.
//
// Get is safe for concurrent use. Two processes building the same table
// race on the final rename; the last writer wins, which is fine because
// tables are written whole.
type RecordCache struct {
	fs      fsutil.FileSystem
	dir     string
	key     CacheKey
	builder Builder

	mu      sync.RWMutex
	records map[ShapeID]*Record
}

// NewRecordCache creates a cache persisting into dir.
func NewRecordCache(fs fsutil.FileSystem, dir string, key CacheKey, builder Builder) *RecordCache {
	return &RecordCache{
		fs:      fs,
		dir:     dir,
		key:     key,
		builder: builder,
		records: make(map[ShapeID]*Record),
	}
}

// Path returns the persisted table location.
func (c *RecordCache) Path() string {
	return filepath.Join(c.dir, c.key.FileName())
}

// Key returns the cache configuration.
func (c *RecordCache) Key() CacheKey { return c.key }

// Len returns the number of cached records.
func (c *RecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Get returns the cached record for id, building and storing it on a miss.
// Concurrent misses for the same id may build twice; the first stored
// record wins and is returned to both callers.
func (c *RecordCache) Get(id ShapeID) (*Record, error) {
	c.mu.RLock()
	rec, ok := c.records[id]
	c.mu.RUnlock()
	if ok {
		return rec, nil
	}

	built, err := c.builder.Build(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		return rec, nil
	}
	c.records[id] = built
	return built, nil
}

// LoadOrBuild makes sure every id has a cache entry. An existing table
// file is authoritative and is loaded without rebuilding anything.
// Otherwise missing entries are built in order; the first failure aborts
// the build and nothing is stored or persisted. With persist set, the
// complete table is written atomically. It reports whether a table was
// loaded from disk.
func (c *RecordCache) LoadOrBuild(ids []ShapeID, persist bool) (bool, error) {
	path := c.Path()
	if c.fs.Exists(path) {
		monitoring.Logf("Loading record: %s ...", c.key.RecordName())
		data, err := c.fs.ReadFile(path)
		if err != nil {
			return false, fmt.Errorf("read cache table: %w", err)
		}
		t, err := decodeTable(data, c.key)
		if err != nil {
			return false, fmt.Errorf("%s: %w", path, err)
		}

		c.mu.Lock()
		for i, id := range t.Names {
			c.records[id] = t.Records[i]
		}
		c.mu.Unlock()
		return true, nil
	}

	monitoring.Logf("Preparing record: %s ...", c.key.RecordName())
	built := make(map[ShapeID]*Record, len(ids))
	c.mu.RLock()
	for _, id := range ids {
		if rec, ok := c.records[id]; ok {
			built[id] = rec
		}
	}
	c.mu.RUnlock()

	for i, id := range ids {
		if _, ok := built[id]; ok {
			continue
		}
		monitoring.Debugf("Parsing data [%d/%d]: %s", i, len(ids), id)
		rec, err := c.builder.Build(id)
		if err != nil {
			return false, fmt.Errorf("build %s (remove or fix the raw file and retry): %w", c.key.RecordName(), err)
		}
		built[id] = rec
	}

	c.mu.Lock()
	for id, rec := range built {
		if _, ok := c.records[id]; !ok {
			c.records[id] = rec
		}
	}
	c.mu.Unlock()

	if !persist {
		return false, nil
	}
	return false, c.persist(ids, built)
}

func (c *RecordCache) persist(ids []ShapeID, records map[ShapeID]*Record) error {
	t := &table{
		Version: TableFormatVersion,
		Digest:  c.key.Digest(),
		Key:     c.key,
		Names:   make([]ShapeID, 0, len(ids)),
		Records: make([]*Record, 0, len(ids)),
	}
	seen := make(map[ShapeID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		t.Names = append(t.Names, id)
		t.Records = append(t.Records, records[id])
	}

	var buf bytes.Buffer
	if err := encodeTable(&buf, t); err != nil {
		return err
	}

	if err := c.fs.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	path := c.Path()
	tmp := path + ".tmp-" + uuid.NewString()
	if err := c.fs.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write cache table: %w", err)
	}
	if err := c.fs.Rename(tmp, path); err != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("commit cache table: %w", err)
	}
	monitoring.Logf("Saved record: %s (%d shapes)", path, len(t.Names))

	if _, err := c.RemoveStale(); err != nil {
		monitoring.Logf("Failed to remove stale records for %s: %v", c.key.RecordName(), err)
	}
	return nil
}

// RemoveStale deletes tables persisted under the same record name by an
// older TableFormatVersion. Tables for other configurations and in-flight
// temporary files are left alone.
func (c *RecordCache) RemoveStale() ([]string, error) {
	pattern := filepath.Join(c.dir, c.key.RecordName()+"_"+strings.Repeat("[0-9a-f]", digestLen)+".rec.zst")
	matches, err := c.fs.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob stale tables: %w", err)
	}
	current := c.Path()
	var removed []string
	for _, m := range matches {
		if m == current {
			continue
		}
		if err := c.fs.Remove(m); err != nil {
			return removed, fmt.Errorf("remove stale table: %w", err)
		}
		monitoring.Logf("Removed stale record: %s", m)
		removed = append(removed, m)
	}
	return removed, nil
}
