package dataset

import (
	"context"

	"contactnet/internal/model"
)

// Provider is the read side of a structural dataset: per-row metadata for
// selection and lazily loaded examples.
type Provider interface {
	Len() int
	Categories() []string
	Row(i int) (model.Row, error)
	Example(ctx context.Context, i int) (model.Example, error)
}

// Close closes p if the backend holds resources.
func Close(p Provider) error {
	closer, ok := p.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
