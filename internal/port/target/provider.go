// Package target defines the port for the target snapshot collaborator.
package target

import (
	"context"

	"github.com/Strob0t/OpsPilot/internal/domain/target"
)

// Provider returns the current state of a managed host.
type Provider interface {
	Snapshot(ctx context.Context, targetID string) (*target.Snapshot, error)
}
