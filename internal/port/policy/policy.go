// Package policy defines the port for the command policy collaborator.
package policy

import (
	"context"

	"github.com/Strob0t/OpsPilot/internal/domain/policy"
)

// Evaluator returns per-command verdicts for a tenant.
type Evaluator interface {
	Evaluate(ctx context.Context, req policy.Request) (policy.Evaluation, error)
}
