package loader

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

type sliceSource []model.LabeledExample

func (s sliceSource) Len() int { return len(s) }

func (s sliceSource) Get(ctx context.Context, i int) (model.LabeledExample, error) {
	if err := ctx.Err(); err != nil {
		return model.LabeledExample{}, err
	}
	return s[i], nil
}

func source(n int) sliceSource {
	out := make(sliceSource, n)
	for i := range out {
		ex := model.LabeledExample{Labels: []float64{float64(i % 2)}}
		ex.Key = fmt.Sprintf("ex%d", i)
		atoms := 2 + i%3
		for a := 0; a < atoms; a++ {
			ex.Features = append(ex.Features, []float64{float64(i)})
			ex.NeighborIndices = append(ex.NeighborIndices, []int{a})
			ex.Assignment = append(ex.Assignment, []float64{1})
		}
		ex.QueryPositions = [][]float64{{0, 0, 0}}
		out[i] = ex
	}
	return out
}

func collect(t *testing.T, ch <-chan Item) []Item {
	t.Helper()
	var items []Item
	for item := range ch {
		items = append(items, item)
	}
	return items
}

func TestEpochDrawsEveryExampleOnce(t *testing.T) {
	for _, shuffle := range []bool{false, true} {
		l, err := New(source(11), Options{BatchSize: 3, Shuffle: shuffle, Seed: 4, Workers: 3, Prefetch: 2})
		require.NoError(t, err)
		require.Equal(t, 4, l.Len())

		items := collect(t, l.Epoch(context.Background(), 0, 0))
		require.Len(t, items, 4)

		var seen []int
		for i, item := range items {
			require.NoError(t, item.Err)
			assert.Equal(t, i, item.Index)
			assert.Equal(t, len(item.Ordinals), item.Batch.Len())
			for k, ord := range item.Ordinals {
				seg := item.Batch.Segments[k]
				assert.Equal(t, float64(ord), item.Batch.Features[seg.AtomStart][0])
			}
			seen = append(seen, item.Ordinals...)
		}
		sort.Ints(seen)
		for i := range seen {
			assert.Equal(t, i, seen[i])
		}
	}
}

func TestShuffleIsReproduciblePerEpoch(t *testing.T) {
	l, err := New(source(20), Options{BatchSize: 4, Shuffle: true, Seed: 9})
	require.NoError(t, err)

	assert.Equal(t, l.Order(3), l.Order(3))
	assert.NotEqual(t, l.Order(0), l.Order(1))

	plain, err := New(source(5), Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, plain.Order(7))
}

func TestEpochSkipsConsumedBatches(t *testing.T) {
	l, err := New(source(10), Options{BatchSize: 3, Shuffle: true, Seed: 2, Workers: 2})
	require.NoError(t, err)

	full := collect(t, l.Epoch(context.Background(), 5, 0))
	rest := collect(t, l.Epoch(context.Background(), 5, 2))
	require.Len(t, rest, 2)
	for i, item := range rest {
		assert.Equal(t, full[i+2].Index, item.Index)
		assert.Equal(t, full[i+2].Ordinals, item.Ordinals)
	}
	assert.Empty(t, collect(t, l.Epoch(context.Background(), 5, 4)))
}

func TestBadBatchDoesNotStopEpoch(t *testing.T) {
	src := source(6)
	src[2].Labels = []float64{1, 1}

	l, err := New(src, Options{BatchSize: 2, Workers: 2})
	require.NoError(t, err)
	items := collect(t, l.Epoch(context.Background(), 0, 0))
	require.Len(t, items, 3)
	assert.NoError(t, items[0].Err)
	assert.True(t, errors.IsBatch(items[1].Err))
	assert.NoError(t, items[2].Err)
}

func TestCancelClosesEpoch(t *testing.T) {
	l, err := New(source(100), Options{BatchSize: 1, Workers: 4, Prefetch: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := l.Epoch(ctx, 0, 0)
	<-ch
	cancel()
	n := 0
	for range ch {
		n++
	}
	assert.Less(t, n, 99)
}

func TestNewValidates(t *testing.T) {
	_, err := New(source(1), Options{})
	require.Error(t, err)
	_, err = New(nil, Options{BatchSize: 1})
	require.Error(t, err)
}
