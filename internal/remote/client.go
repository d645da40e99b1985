// Package remote abstracts the record environments a migration reads from
// and writes to.
package remote

import (
	"context"

	"github.com/recmig/recmig/pkg/models"
)

// Record is one entity record as fetched from an environment.
type Record = map[string]interface{}

// Client is the boundary to one environment. Fetch reads entity records;
// Execute applies a single mutating operation. Both honor context
// cancellation.
type Client interface {
	Fetch(ctx context.Context, spec models.FetchSpec) ([]Record, error)
	Execute(ctx context.Context, op models.Operation) error
}
