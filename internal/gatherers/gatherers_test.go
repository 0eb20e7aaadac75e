// internal/gatherers/gatherers_test.go
package gatherers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// evalDriver stubs only EvaluateAsync; the embedded interface panics on
// anything else, which is exactly what these gatherers should never call.
type evalDriver struct {
	schemas.Driver
	result string
	err    error
}

func (d *evalDriver) EvaluateAsync(ctx context.Context, expression string, out any) error {
	if d.err != nil {
		return d.err
	}
	return json.Unmarshal([]byte(d.result), out)
}

func TestViewportMeta(t *testing.T) {
	t.Parallel()

	t.Run("reads the viewport tag", func(t *testing.T) {
		t.Parallel()
		pc := &schemas.PassContext{
			Driver: &evalDriver{result: `{"hasViewportTag": true, "content": "width=device-width"}`},
		}
		value, err := NewViewportMeta().Pass(context.Background(), pc, nil)
		require.NoError(t, err)

		artifact, ok := value.(*ViewportMetaArtifact)
		require.True(t, ok)
		assert.True(t, artifact.HasViewportTag)
		assert.Equal(t, "width=device-width", artifact.Content)
	})

	t.Run("propagates evaluation failure", func(t *testing.T) {
		t.Parallel()
		pc := &schemas.PassContext{Driver: &evalDriver{err: errors.New("execution context destroyed")}}
		_, err := NewViewportMeta().Pass(context.Background(), pc, nil)
		assert.Error(t, err)
	})

	t.Run("other phases are absent", func(t *testing.T) {
		t.Parallel()
		g := NewViewportMeta()
		value, err := g.BeforePass(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Nil(t, value)
		value, err = g.AfterPass(context.Background(), nil, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, value)
	})
}

func TestScriptElements(t *testing.T) {
	t.Parallel()
	pc := &schemas.PassContext{
		Driver: &evalDriver{result: `[
			{"src": "https://example.com/app.js", "type": "module", "async": false, "defer": false, "module": true},
			{"src": "", "type": "", "async": true, "defer": false, "module": false}
		]`},
	}
	value, err := NewScriptElements().Pass(context.Background(), pc, nil)
	require.NoError(t, err)

	scripts, ok := value.([]ScriptElement)
	require.True(t, ok)
	require.Len(t, scripts, 2)
	assert.Equal(t, "https://example.com/app.js", scripts[0].Src)
	assert.True(t, scripts[0].Module)
	assert.True(t, scripts[1].Async)
}

func TestNetworkRequests(t *testing.T) {
	t.Parallel()
	loadData := &schemas.LoadData{
		NetworkRecords: []*schemas.NetworkRecord{
			{URL: "https://example.com/", StatusCode: 200, ResourceType: "Document"},
			{URL: "https://example.com/missing.png", Failed: true},
		},
	}
	value, err := NewNetworkRequests().AfterPass(context.Background(), nil, loadData, nil)
	require.NoError(t, err)

	requests, ok := value.([]NetworkRequest)
	require.True(t, ok)
	require.Len(t, requests, 2)
	assert.Equal(t, int64(200), requests[0].StatusCode)
	assert.Equal(t, "Document", requests[0].ResourceType)
	assert.True(t, requests[1].Failed)
}

func TestDefaultPassConfigs(t *testing.T) {
	t.Parallel()

	t.Run("full pass set", func(t *testing.T) {
		t.Parallel()
		passes := DefaultPassConfigs(false)
		require.Len(t, passes, 2)
		assert.Equal(t, "defaultPass", passes[0].PassName)
		assert.False(t, passes[0].RecordTrace)
		assert.Equal(t, "perfPass", passes[1].PassName)
		assert.True(t, passes[1].RecordTrace)
		assert.True(t, passes[1].UseThrottling)
	})

	t.Run("perf pass skipped", func(t *testing.T) {
		t.Parallel()
		passes := DefaultPassConfigs(true)
		require.Len(t, passes, 1)
		assert.Equal(t, "defaultPass", passes[0].PassName)
	})

	t.Run("every binding has an instance with a name", func(t *testing.T) {
		t.Parallel()
		for _, pass := range DefaultPassConfigs(false) {
			for _, binding := range pass.Gatherers {
				require.NotNil(t, binding.Instance)
				assert.NotEmpty(t, binding.Instance.Name())
			}
		}
	})
}
