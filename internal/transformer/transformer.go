// Package transformer defines the table-to-table step contract used by the
// cleaning stage and a Chain that runs steps in order.
package transformer

import (
	"context"
	"fmt"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Transformer turns one table into another. Implementations return a new
// table and never mutate rows of the input in place.
type Transformer interface {
	Apply(ctx context.Context, in *records.Table) (*records.Table, error)
}

// Func adapts an ordinary function to the Transformer interface.
type Func func(ctx context.Context, in *records.Table) (*records.Table, error)

// Apply calls f.
func (f Func) Apply(ctx context.Context, in *records.Table) (*records.Table, error) {
	return f(ctx, in)
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs each transformer on the previous one's output and stops at the
// first error.
func (c Chain) Apply(ctx context.Context, in *records.Table) (*records.Table, error) {
	out := in
	for i, t := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := t.Apply(ctx, out)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("transformer: step %d (%T) returned no table", i, t)
		}
		out = next
	}
	return out, nil
}
