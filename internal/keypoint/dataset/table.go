package dataset

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// TableFormatVersion is folded into every cache key. Bump it whenever the
// parsing or sampling logic changes so stale tables are never reused.
const TableFormatVersion = 3

// digestLen is the number of hex digits of the digest kept in file names.
const digestLen = 12

// tableNamespace scopes the name-based UUIDs used as cache digests.
var tableNamespace = uuid.MustParse("6f1c2d1e-8a47-4c59-9b0e-3d2f5a7c9e10")

// CacheKey is the configuration a persisted record table depends on.
type CacheKey struct {
	Split     string
	Category  string
	NumPoints int
	Uniform   bool
}

// RecordName is the human-readable table name, e.g.
// "keypointnet_test_airplane_2048points_uniform".
func (k CacheKey) RecordName() string {
	name := fmt.Sprintf("keypointnet_%s_%s", k.Split, k.Category)
	if k.NumPoints > 0 {
		name += fmt.Sprintf("_%dpoints", k.NumPoints)
		if k.Uniform {
			name += "_uniform"
		}
	}
	return name
}

// Digest is a stable content hash of the key and TableFormatVersion.
func (k CacheKey) Digest() string {
	uniform := k.Uniform && k.NumPoints > 0
	canonical := fmt.Sprintf("v%d|split=%s|category=%s|points=%d|uniform=%t",
		TableFormatVersion, k.Split, k.Category, k.NumPoints, uniform)
	id := uuid.NewSHA1(tableNamespace, []byte(canonical))
	return strings.ReplaceAll(id.String(), "-", "")[:digestLen]
}

// FileName is the persisted table file name.
func (k CacheKey) FileName() string {
	return k.RecordName() + "_" + k.Digest() + ".rec.zst"
}

// table is the on-disk layout: a gob stream inside a zstd frame.
type table struct {
	Version int
	Digest  string
	Key     CacheKey
	Names   []ShapeID
	Records []*Record
}

func encodeTable(w io.Writer, t *table) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(enc).Encode(t); err != nil {
		enc.Close()
		return fmt.Errorf("encode table: %w", err)
	}
	return enc.Close()
}

func decodeTable(data []byte, key CacheKey) (*table, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd reader: %v", ErrCacheTable, err)
	}
	defer dec.Close()

	var t table
	if err := gob.NewDecoder(dec).Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCacheTable, err)
	}
	if t.Version != TableFormatVersion || t.Digest != key.Digest() {
		return nil, fmt.Errorf("%w: table v%d/%s does not match v%d/%s",
			ErrCacheTable, t.Version, t.Digest, TableFormatVersion, key.Digest())
	}
	if len(t.Names) != len(t.Records) {
		return nil, fmt.Errorf("%w: %d names for %d records", ErrCacheTable, len(t.Names), len(t.Records))
	}
	return &t, nil
}
