package dataset

import (
	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/monitoring"
)

// Options configures Open.
type Options struct {
	Root     string
	Split    string
	Category string
	Sampling SamplingOptions
	Loop     int
	// SaveRecord persists a freshly built table.
	SaveRecord bool
}

// Dataset is a prepared split: the ordered shape selection plus a warm
// record cache.
type Dataset struct {
	Selection
	Index *Index
	Cache *RecordCache
}

// Open resolves the split, loads annotations and loads or builds the
// record table.
func Open(fs fsutil.FileSystem, categories *Categories, opts Options) (*Dataset, error) {
	index := NewIndex(fs, opts.Root, categories)

	ids, err := index.ListShapes(opts.Split, opts.Category)
	if err != nil {
		return nil, err
	}
	annotations, err := index.ResolveAnnotations(opts.Category)
	if err != nil {
		return nil, err
	}

	sel := Selection{IDs: ids, Loop: opts.Loop}
	monitoring.Logf("Totally %d x %d samples in %s set.", len(ids), max(opts.Loop, 1), opts.Split)

	store := NewRecordStore(fs, index.Layout(), annotations, opts.Sampling)
	key := CacheKey{
		Split:     opts.Split,
		Category:  opts.Category,
		NumPoints: opts.Sampling.NumPoints,
		Uniform:   opts.Sampling.Uniform,
	}
	cache := NewRecordCache(fs, opts.Root, key, store)
	if _, err := cache.LoadOrBuild(ids, opts.SaveRecord); err != nil {
		return nil, err
	}

	return &Dataset{Selection: sel, Index: index, Cache: cache}, nil
}

// Get returns the record behind loader index i.
func (d *Dataset) Get(i int) (*Record, error) {
	return d.Cache.Get(d.At(i))
}

// Name returns the shape identifier behind loader index i.
func (d *Dataset) Name(i int) ShapeID {
	return d.At(i)
}
