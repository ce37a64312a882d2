package dataset

import (
	"context"
	"fmt"
	"os"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// Open initializes a provider for kind. SQLite datasets are read lazily from
// path. Memory datasets are preloaded from the sqlite file at path, or start
// empty when path is empty.
func Open(ctx context.Context, kind, path string, categories []string) (Provider, error) {
	switch kind {
	case KindMemory:
		if path == "" {
			return NewMemoryProvider(categories), nil
		}
		src, err := openSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return Preload(ctx, src)
	case "", KindSQLite:
		return openSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported dataset backend: %s", kind)
	}
}

func openSQLite(ctx context.Context, path string) (*SQLiteProvider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	p := NewSQLiteProvider(path)
	if err := p.Init(ctx); err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	return p, nil
}

// Preload copies every row and example of src into memory.
func Preload(ctx context.Context, src Provider) (*MemoryProvider, error) {
	out := NewMemoryProvider(src.Categories())
	for i := 0; i < src.Len(); i++ {
		row, err := src.Row(i)
		if err != nil {
			return nil, err
		}
		example, err := src.Example(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("preload row %d: %w", i, err)
		}
		out.Add(row, example)
	}
	return out, nil
}

// WithCache wraps p in an example cache when size > 0.
func WithCache(p Provider, size int) (Provider, error) {
	if size <= 0 {
		return p, nil
	}
	return NewCachedProvider(p, size)
}
