package dataset

import (
	"context"
	"fmt"
	"sync"

	"contactnet/internal/model"
)

type MemoryProvider struct {
	mu         sync.RWMutex
	categories []string
	rows       []model.Row
	examples   []model.Example
}

func NewMemoryProvider(categories []string) *MemoryProvider {
	return &MemoryProvider{categories: append([]string(nil), categories...)}
}

// Add appends a row and its example. The row index is assigned positionally.
func (p *MemoryProvider) Add(row model.Row, example model.Example) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	row.Index = len(p.rows)
	if row.Size == 0 {
		row.Size = example.Size()
	}
	if row.NumResidues == 0 {
		row.NumResidues = len(example.QueryPositions)
	}
	if example.Key == "" {
		example.Key = row.Identifier
	}
	p.rows = append(p.rows, row)
	p.examples = append(p.examples, example)
	return row.Index
}

func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.rows)
}

func (p *MemoryProvider) Categories() []string {
	return append([]string(nil), p.categories...)
}

func (p *MemoryProvider) Row(i int) (model.Row, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if i < 0 || i >= len(p.rows) {
		return model.Row{}, fmt.Errorf("row %d out of range [0, %d)", i, len(p.rows))
	}
	return p.rows[i], nil
}

func (p *MemoryProvider) Example(ctx context.Context, i int) (model.Example, error) {
	if err := ctx.Err(); err != nil {
		return model.Example{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if i < 0 || i >= len(p.examples) {
		return model.Example{}, fmt.Errorf("example %d out of range [0, %d)", i, len(p.examples))
	}
	return p.examples[i], nil
}
