// Package catalog defines the port for the automation catalog collaborator.
package catalog

import (
	"context"

	"github.com/Strob0t/OpsPilot/internal/domain/catalog"
)

// Lookup returns ranked candidate automations for a request, best first.
type Lookup interface {
	Lookup(ctx context.Context, q catalog.Query) ([]catalog.Candidate, error)
}
