// File: internal/gatherers/viewport.go
package gatherers

import (
	"context"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

const viewportExpression = `(() => {
	const el = document.querySelector('meta[name="viewport"]');
	return {hasViewportTag: !!el, content: el ? (el.getAttribute('content') || '') : ''};
})()`

// ViewportMetaArtifact describes the page's meta-viewport declaration.
type ViewportMetaArtifact struct {
	HasViewportTag bool   `json:"hasViewportTag"`
	Content        string `json:"content"`
}

// ViewportMeta collects the meta-viewport tag while the target page is
// loaded.
type ViewportMeta struct {
	Base
}

// NewViewportMeta creates the viewport gatherer.
func NewViewportMeta() *ViewportMeta {
	return &ViewportMeta{}
}

func (*ViewportMeta) Name() string { return "ViewportMeta" }

func (g *ViewportMeta) Pass(ctx context.Context, pc *schemas.PassContext, opts map[string]any) (any, error) {
	var artifact ViewportMetaArtifact
	if err := pc.Driver.EvaluateAsync(ctx, viewportExpression, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

var _ schemas.Gatherer = (*ViewportMeta)(nil)
