// File: internal/gatherers/base.go
// Gatherers are pluggable observers invoked at three lifecycle points per
// pass. Embedding Base gives a gatherer no-op hooks for the phases it does
// not care about; a nil return is the absent marker.
package gatherers

import (
	"context"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// Base provides absent-marker defaults for all three lifecycle hooks.
type Base struct{}

func (Base) BeforePass(ctx context.Context, pc *schemas.PassContext, opts map[string]any) (any, error) {
	return nil, nil
}

func (Base) Pass(ctx context.Context, pc *schemas.PassContext, opts map[string]any) (any, error) {
	return nil, nil
}

func (Base) AfterPass(ctx context.Context, pc *schemas.PassContext, loadData *schemas.LoadData, opts map[string]any) (any, error) {
	return nil, nil
}
