// File: internal/gatherers/scripts.go
package gatherers

import (
	"context"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

const scriptsExpression = `(() => {
	return Array.from(document.querySelectorAll('script')).map(el => ({
		src: el.src || '',
		type: el.type || '',
		async: el.async,
		defer: el.defer,
		module: el.type === 'module',
	}));
})()`

// ScriptElement describes one script tag found on the loaded page.
type ScriptElement struct {
	Src    string `json:"src"`
	Type   string `json:"type"`
	Async  bool   `json:"async"`
	Defer  bool   `json:"defer"`
	Module bool   `json:"module"`
}

// ScriptElements enumerates the script tags of the loaded page.
type ScriptElements struct {
	Base
}

// NewScriptElements creates the script elements gatherer.
func NewScriptElements() *ScriptElements {
	return &ScriptElements{}
}

func (*ScriptElements) Name() string { return "ScriptElements" }

func (g *ScriptElements) Pass(ctx context.Context, pc *schemas.PassContext, opts map[string]any) (any, error) {
	var scripts []ScriptElement
	if err := pc.Driver.EvaluateAsync(ctx, scriptsExpression, &scripts); err != nil {
		return nil, err
	}
	return scripts, nil
}

var _ schemas.Gatherer = (*ScriptElements)(nil)
