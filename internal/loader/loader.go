// Package loader turns a dataset view into a stream of collated batches.
package loader

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"contactnet/internal/collate"
	"contactnet/internal/model"
)

// Source is the part of a dataset view the loader reads from.
type Source interface {
	Len() int
	Get(ctx context.Context, i int) (model.LabeledExample, error)
}

// Options configures batching and prefetching.
type Options struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	// Workers is the number of goroutines loading and collating batches.
	Workers int
	// Prefetch bounds how many batches may be in flight ahead of the consumer.
	Prefetch int
}

// Item is one batch of an epoch. Err is set when loading or collation of the
// batch failed; the remaining batches of the epoch are still delivered.
type Item struct {
	Index    int
	Ordinals []int
	Batch    model.Batch
	Err      error
}

type Loader struct {
	src  Source
	opts Options
}

func New(src Source, opts Options) (*Loader, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2 * opts.Workers
	}
	return &Loader{src: src, opts: opts}, nil
}

// Len is the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.src.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Order returns the example ordinals of an epoch in draw order. Every ordinal
// appears exactly once.
func (l *Loader) Order(epoch int) []int {
	n := l.src.Len()
	if !l.opts.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(l.opts.Seed + int64(epoch)))
	return rng.Perm(n)
}

// Epoch streams the batches of one epoch in order, starting at batch index
// skip. Batches are loaded by the worker pool ahead of the consumer. The
// channel is closed when the epoch is exhausted or ctx is cancelled; a
// consumer that stops early must cancel ctx.
func (l *Loader) Epoch(ctx context.Context, epoch, skip int) <-chan Item {
	type job struct {
		item Item
		done chan Item
	}

	order := l.Order(epoch)
	out := make(chan Item)
	jobs := make(chan job)
	pending := make(chan chan Item, l.opts.Prefetch)

	var wg sync.WaitGroup
	wg.Add(l.opts.Workers)
	for w := 0; w < l.opts.Workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				j.done <- l.load(ctx, j.item)
			}
		}()
	}

	go func() {
		defer close(pending)
		defer close(jobs)
		for b := skip; b*l.opts.BatchSize < len(order); b++ {
			end := (b + 1) * l.opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			done := make(chan Item, 1)
			select {
			case pending <- done:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- job{item: Item{Index: b, Ordinals: order[b*l.opts.BatchSize : end]}, done: done}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(out)
		defer wg.Wait()
		for done := range pending {
			var item Item
			select {
			case item = <-done:
			case <-ctx.Done():
				drain(pending)
				return
			}
			select {
			case out <- item:
			case <-ctx.Done():
				drain(pending)
				return
			}
		}
	}()
	return out
}

func drain(pending <-chan chan Item) {
	for range pending {
	}
}

func (l *Loader) load(ctx context.Context, item Item) Item {
	examples := make([]model.LabeledExample, 0, len(item.Ordinals))
	for _, i := range item.Ordinals {
		ex, err := l.src.Get(ctx, i)
		if err != nil {
			item.Err = err
			return item
		}
		examples = append(examples, ex)
	}
	item.Batch, item.Err = collate.Collate(examples)
	return item
}
