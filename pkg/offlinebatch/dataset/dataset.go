// Package dataset iterates the columnar (parquet) shard format the
// offline batch pipeline reads and writes. Grounded on the original
// Python's UnifiedDataLoader.iterate_samples (batch_service.py), which
// reads img2dataset-format parquet shards with pandas/pyarrow one row
// group at a time; here the same row-by-row iteration is done with
// github.com/parquet-go/parquet-go directly over bytes pulled through
// pkg/offlinebatch/objectstore, so local and S3 shards are read
// identically.
package dataset

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/kunal/embedserve/pkg/offlinebatch/objectstore"
)

// Row is one img2dataset-shaped sample: a remote image URL, its caption,
// and a unique key (copied into the output table). Metadata is not read
// from the shard (its parquet tag is "-"), so it is always nil after a
// read; other shard columns are ignored.
type Row struct {
	URL      string            `parquet:"url"`
	Caption  string            `parquet:"caption"`
	Key      string            `parquet:"key"`
	Metadata map[string]string `parquet:"-"`
}

// Source iterates every row of every shard under a prefix, in shard
// order then row order within each shard — mirrors
// UnifiedDataLoader.iterate_samples's deterministic shard walk.
type Source struct {
	store objectstore.Store
	shard []string
}

// Open lists the parquet shards under prefix (suffix ".parquet") in
// store and returns a Source ready to iterate them.
func Open(ctx context.Context, store objectstore.Store, prefix string) (*Source, error) {
	shards, err := store.List(ctx, prefix, ".parquet")
	if err != nil {
		return nil, fmt.Errorf("dataset: list shards under %q: %w", prefix, err)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("dataset: no .parquet shards found under %q", prefix)
	}
	return &Source{store: store, shard: shards}, nil
}

// Shards returns the shard keys this Source will iterate, in order.
func (s *Source) Shards() []string { return s.shard }

// Each calls fn once per Row across every shard, in shard order. It
// stops and returns fn's error the first time fn returns a non-nil one.
func (s *Source) Each(ctx context.Context, fn func(shard string, r Row) error) error {
	for _, key := range s.shard {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := readShard(ctx, s.store, key)
		if err != nil {
			return fmt.Errorf("dataset: read shard %q: %w", key, err)
		}
		for _, r := range rows {
			if err := fn(key, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func readShard(ctx context.Context, store objectstore.Store, key string) ([]Row, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
}

// IsRemoteURL reports whether a URL names a network-fetchable image
// rather than a path this Source's own object store should resolve —
// img2dataset shards always carry network URLs, but a local smoke-test
// fixture may point at a relative path instead.
func IsRemoteURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
