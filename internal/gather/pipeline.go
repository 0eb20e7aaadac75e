// File: internal/gather/pipeline.go
package gather

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// Pipeline runs each configured gatherer's lifecycle hooks against the
// shared per-pass context. Gatherers execute strictly in configured order,
// never concurrently, because later gatherers may depend on side effects
// (network conditions, scroll position) left by earlier ones.
type Pipeline struct {
	logger *zap.Logger
}

// NewPipeline creates a gatherer pipeline.
func NewPipeline(logger *zap.Logger) *Pipeline {
	return &Pipeline{logger: logger.Named("pipeline")}
}

// BeforePass runs every gatherer's before-pass hook in order.
func (p *Pipeline) BeforePass(ctx context.Context, pc *schemas.PassContext, results GathererResults) {
	for _, binding := range pc.PassConfig.Gatherers {
		value, err := binding.Instance.BeforePass(ctx, pc, binding.Options)
		p.capture(results, binding.Instance.Name(), "beforePass", value, err)
	}
}

// Pass runs every gatherer's pass hook in order.
func (p *Pipeline) Pass(ctx context.Context, pc *schemas.PassContext, results GathererResults) {
	for _, binding := range pc.PassConfig.Gatherers {
		value, err := binding.Instance.Pass(ctx, pc, binding.Options)
		p.capture(results, binding.Instance.Name(), "pass", value, err)
	}
}

// AfterPass runs every gatherer's after-pass hook in order. The scroll
// position is captured once before the stage begins and restored after each
// individual hook completes, so one gatherer's scrolling cannot bleed into
// the next gatherer's observations.
func (p *Pipeline) AfterPass(ctx context.Context, pc *schemas.PassContext, loadData *schemas.LoadData, results GathererResults) {
	scrollPos, scrollErr := pc.Driver.GetScrollPosition(ctx)
	if scrollErr != nil {
		p.logger.Warn("Could not capture scroll position before after-pass stage",
			zap.Error(scrollErr))
	}

	for _, binding := range pc.PassConfig.Gatherers {
		value, err := binding.Instance.AfterPass(ctx, pc, loadData, binding.Options)
		p.capture(results, binding.Instance.Name(), "afterPass", value, err)

		if scrollErr == nil {
			if err := pc.Driver.ScrollTo(ctx, scrollPos); err != nil {
				p.logger.Warn("Could not restore scroll position",
					zap.String("gatherer", binding.Instance.Name()), zap.Error(err))
			}
		}
	}
}

// capture records one hook outcome. A hook failure is logged and captured so
// the remaining gatherers in the stage still run.
func (p *Pipeline) capture(results GathererResults, name, stage string, value any, err error) {
	if err != nil {
		p.logger.Warn("Gatherer hook failed; continuing with remaining gatherers",
			zap.String("gatherer", name),
			zap.String("stage", stage),
			zap.Error(err))
		results.add(name, schemas.PhaseResult{Err: err})
		return
	}
	results.add(name, schemas.PhaseResult{Value: value})
}
