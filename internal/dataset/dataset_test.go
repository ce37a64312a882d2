package dataset

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

func threeClassLabels(i int) []float64 {
	labels := []float64{1, 0, 0}
	if i%2 == 0 {
		labels[2] = 1
	}
	return labels
}

func TestSyntheticDataset(t *testing.T) {
	p, err := Synthetic(SyntheticOptions{
		Rows:       10,
		Categories: []string{"a", "b", "c"},
		MinAtoms:   6,
		MaxAtoms:   12,
		LabelFn:    threeClassLabels,
		Seed:       3,
	})
	require.NoError(t, err)
	require.Equal(t, 10, p.Len())

	for i := 0; i < p.Len(); i++ {
		row, err := p.Row(i)
		require.NoError(t, err)
		assert.Equal(t, i, row.Index)

		example, err := p.Example(context.Background(), i)
		require.NoError(t, err)
		assert.Equal(t, row.Size, example.Size())
		assert.GreaterOrEqual(t, example.Size(), 6)
		assert.LessOrEqual(t, example.Size(), 12)
		assert.Len(t, example.Assignment, example.Size())
		assert.Equal(t, threeClassLabels(i), example.Labels)
		if i%2 == 0 {
			assert.Equal(t, []string{"a", "c"}, row.InterfaceCategories)
		}
	}

	_, err = p.Row(10)
	require.Error(t, err)
}

func TestRowAccessors(t *testing.T) {
	p := NewMemoryProvider([]string{"ion"})
	p.Add(model.Row{Identifier: "1ABC_1_A", AssemblyCount: 2, InterfaceCategories: []string{"ion"}}, model.Example{})

	row, err := p.Row(0)
	require.NoError(t, err)
	assert.Equal(t, "1ABC_1_A", row.Identifier)
	assert.Equal(t, 2, row.AssemblyCount)
	assert.Equal(t, []string{"ion"}, row.InterfaceCategories)
	assert.Zero(t, row.Size)

	assert.NoError(t, Close(p))
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "contacts.db")

	src, err := Synthetic(SyntheticOptions{
		Rows:          5,
		Categories:    []string{"a", "b", "c"},
		LabelFn:       threeClassLabels,
		AssemblyCount: func(i int) int { return i + 1 },
	})
	require.NoError(t, err)

	w, err := CreateSQLite(ctx, path, src.Categories())
	require.NoError(t, err)
	for i := 0; i < src.Len(); i++ {
		row, _ := src.Row(i)
		example, _ := src.Example(ctx, i)
		idx, err := w.Put(ctx, row, example)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
	require.NoError(t, w.Commit())

	p, err := Open(ctx, KindSQLite, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(p) })

	require.Equal(t, 5, p.Len())
	assert.Equal(t, []string{"a", "b", "c"}, p.Categories())

	row, err := p.Row(3)
	require.NoError(t, err)
	assert.Equal(t, 4, row.AssemblyCount)
	assert.Equal(t, "0003_1_A", row.Identifier)

	want, _ := src.Example(ctx, 3)
	got, err := p.Example(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, want.Features, got.Features)
	assert.Equal(t, want.NeighborIndices, got.NeighborIndices)
	assert.Equal(t, want.Labels, got.Labels)

	_, err = p.Example(ctx, 42)
	require.Error(t, err)

	mem, err := Open(ctx, KindMemory, path, nil)
	require.NoError(t, err)
	require.Equal(t, 5, mem.Len())
	got, err = mem.Example(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, want.Features, got.Features)

	_, err = Open(ctx, KindSQLite, filepath.Join(t.TempDir(), "missing.db"), nil)
	require.Error(t, err)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "hdf5", "x", nil)
	require.Error(t, err)

	p, err := Open(context.Background(), KindMemory, "", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
}

type countingProvider struct {
	*MemoryProvider
	loads int
}

func (c *countingProvider) Example(ctx context.Context, i int) (model.Example, error) {
	c.loads++
	return c.MemoryProvider.Example(ctx, i)
}

func TestCachedProviderReusesExamples(t *testing.T) {
	src, err := Synthetic(SyntheticOptions{Rows: 3, Categories: []string{"a"}})
	require.NoError(t, err)
	counting := &countingProvider{MemoryProvider: src}

	p, err := WithCache(counting, 2)
	require.NoError(t, err)
	for epoch := 0; epoch < 3; epoch++ {
		_, err := p.Example(context.Background(), 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, counting.loads)
	require.NoError(t, Close(p))
}

func TestDecodeExampleVersionMismatch(t *testing.T) {
	data, err := EncodeExample(model.Example{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 99, CodecVersion: CurrentCodecVersion},
	})
	require.NoError(t, err)
	_, err = DecodeExample(data)
	require.ErrorIs(t, err, ErrVersionMismatch)

	_, err = DecodeExample(snappy.Encode(nil, []byte("{")))
	require.Error(t, err)
}

func TestCorruptExampleIsBatchError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "contacts.db")
	src, err := Synthetic(SyntheticOptions{Rows: 3, Categories: []string{"a", "b", "c"}, LabelFn: threeClassLabels})
	require.NoError(t, err)
	w, err := CreateSQLite(ctx, path, src.Categories())
	require.NoError(t, err)
	for i := 0; i < src.Len(); i++ {
		row, _ := src.Row(i)
		example, _ := src.Example(ctx, i)
		_, err := w.Put(ctx, row, example)
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE examples SET payload = X'00FFFF' WHERE idx = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	p, err := Open(ctx, KindSQLite, path, nil)
	require.NoError(t, err)

	_, err = p.Example(ctx, 0)
	require.NoError(t, err)
	_, err = p.Example(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.IsBatch(err))
	_, err = p.Example(ctx, 42)
	assert.True(t, errors.IsBatch(err))

	require.NoError(t, Close(p))
	_, err = p.Example(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
