// internal/gather/runner_test.go
package gather

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

type runnerTestFixture struct {
	Runner      *Runner
	Driver      *mockDriver
	Invocations []string
}

func setupRunnerTest(t *testing.T) *runnerTestFixture {
	t.Helper()
	return &runnerTestFixture{
		Runner: NewRunner(zap.NewNop()),
		Driver: newMockDriver(),
	}
}

func (f *runnerTestFixture) binding(g *mockGatherer) schemas.GathererBinding {
	g.invocations = &f.Invocations
	return schemas.GathererBinding{Instance: g}
}

func (f *runnerTestFixture) runOptions() schemas.RunOptions {
	return schemas.RunOptions{
		RequestedURL: "https://example.com/page",
		Driver:       f.Driver,
		Settings:     schemas.Settings{},
	}
}

// successfulNavigation makes every target navigation look like a clean load
// by backfilling a 200 document record for EndDevtoolsLog.
func (f *runnerTestFixture) successfulNavigation() {
	f.Driver.endDevtoolsRecords = []*schemas.NetworkRecord{
		{URL: "https://example.com/page", StatusCode: 200},
	}
}

func TestRunnerHappyPath(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.successfulNavigation()

	passes := []schemas.PassConfig{
		{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Alpha", passValue: "alpha-v1"}),
		}},
		{PassName: "perfPass", RecordTrace: true, UseThrottling: true, Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Beta", afterPassValue: "beta-v1"}),
		}},
	}

	final, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.NoError(t, err)
	require.NotNil(t, final)

	wantArtifacts := map[string]any{"Alpha": "alpha-v1", "Beta": "beta-v1"}
	if diff := cmp.Diff(wantArtifacts, final.Gatherers); diff != "" {
		t.Errorf("unexpected artifacts (-want +got):\n%s", diff)
	}
	assert.Nil(t, final.Base.PageLoadError)

	// Recordings keyed by pass name; the traced pass also filed its trace.
	assert.Contains(t, final.Base.DevtoolsLogs, "defaultPass")
	assert.Contains(t, final.Base.DevtoolsLogs, "perfPass")
	assert.Contains(t, final.Base.Traces, "perfPass")
	assert.NotContains(t, final.Base.Traces, "defaultPass")

	// One timing entry per pass plus the run total.
	names := make([]string, 0, len(final.Base.Timing))
	for _, entry := range final.Base.Timing {
		names = append(names, entry.Name)
	}
	assert.Equal(t, []string{"gather:pass:defaultPass", "gather:pass:perfPass", "gather:total"}, names)

	assert.Equal(t, 1, fixture.Driver.calledCount("Connect"))
	assert.Equal(t, 1, fixture.Driver.calledCount("Disconnect"))
	// The traced throttled pass clears caches; the plain pass does not.
	assert.Equal(t, 1, fixture.Driver.calledCount("CleanBrowserCaches"))
	assert.Equal(t, 1, fixture.Driver.calledCount("SetThrottling"))
}

func TestRunnerArtifactOverwriteAcrossPasses(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.successfulNavigation()

	passes := []schemas.PassConfig{
		{PassName: "first", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Shared", passValue: "old"}),
		}},
		{PassName: "second", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Shared", passValue: "new"}),
		}},
	}

	final, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.NoError(t, err)
	assert.Equal(t, "new", final.Gatherers["Shared"])
}

func TestRunnerLoadErrorTruncatesPasses(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	// The document request came back as a server error on every pass.
	fixture.Driver.endDevtoolsRecords = []*schemas.NetworkRecord{
		{URL: "https://example.com/page", StatusCode: 500},
	}

	passes := []schemas.PassConfig{
		{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Alpha", passValue: "alpha-v1"}),
		}},
		{PassName: "perfPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Beta", passValue: "beta-v1"}),
		}},
	}

	final, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.NoError(t, err)

	require.NotNil(t, final.Base.PageLoadError)
	assert.Equal(t, schemas.ErrErroredDocumentRequest, final.Base.PageLoadError.Code)

	// The second pass never ran.
	assert.NotContains(t, fixture.Invocations, "Beta:pass")
	assert.NotContains(t, final.Gatherers, "Beta")

	// The failed pass filed its recording under the error key and queued a
	// user-facing warning.
	assert.Contains(t, final.Base.DevtoolsLogs, "pageLoadError-defaultPass")
	assert.NotContains(t, final.Base.DevtoolsLogs, "defaultPass")
	require.NotEmpty(t, final.Base.RunWarnings)

	// After-pass work is skipped on a failed load.
	assert.NotContains(t, fixture.Invocations, "Alpha:afterPass")
	assert.Contains(t, fixture.Invocations, "Alpha:pass")
}

func TestRunnerRecoverableNavigationError(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.successfulNavigation()
	fixture.Driver.gotoURLFunc = func(url string, opts schemas.NavigationOptions) (string, error) {
		if url == "https://example.com/page" {
			return "", schemas.NewPageError(schemas.ErrNoFCP, "no paint observed")
		}
		return url, nil
	}

	passes := []schemas.PassConfig{
		{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Alpha", passValue: "alpha-v1"}),
		}},
	}

	final, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.NoError(t, err, "a recoverable navigation error must not abort the run")

	require.NotNil(t, final.Base.PageLoadError)
	assert.Equal(t, schemas.ErrNoFCP, final.Base.PageLoadError.Code)
	// The in-page phase still ran against whatever loaded.
	assert.Contains(t, fixture.Invocations, "Alpha:pass")
}

func TestRunnerFatalNavigationError(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.Driver.gotoURLFunc = func(url string, opts schemas.NavigationOptions) (string, error) {
		if url == "https://example.com/page" {
			return "", errors.New("websocket torn down")
		}
		return url, nil
	}

	passes := []schemas.PassConfig{
		{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Alpha", passValue: "alpha-v1"}),
		}},
	}

	_, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.Error(t, err)
	// The browser is still disposed on the failure path.
	assert.Equal(t, 1, fixture.Driver.calledCount("Disconnect"))
}

func TestRunnerConnectFailure(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.Driver.connectErr = errors.New("no browser binary")

	_, err := fixture.Runner.Run(context.Background(), nil, fixture.runOptions())
	require.Error(t, err)
	assert.Equal(t, 0, fixture.Driver.calledCount("Disconnect"))
}

func TestRunnerMissingArtifactIsFatal(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.successfulNavigation()

	passes := []schemas.PassConfig{
		{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Silent"}),
		}},
	}

	_, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.Error(t, err)
	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Silent", missing.Gatherer)
}

func TestRunnerFinalURLPropagation(t *testing.T) {
	t.Parallel()
	fixture := setupRunnerTest(t)
	fixture.Driver.endDevtoolsRecords = []*schemas.NetworkRecord{
		{URL: "https://example.com/landing", StatusCode: 200},
	}
	fixture.Driver.gotoURLFunc = func(url string, opts schemas.NavigationOptions) (string, error) {
		if url == "https://example.com/page" {
			return "https://example.com/landing", nil
		}
		return url, nil
	}

	passes := []schemas.PassConfig{
		{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
			fixture.binding(&mockGatherer{name: "Alpha", passValue: "v"}),
		}},
	}

	final, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/page", final.Base.URL.RequestedURL)
	assert.Equal(t, "https://example.com/landing", final.Base.URL.FinalURL)
}

func TestRunnerStorageResetRespected(t *testing.T) {
	t.Parallel()

	t.Run("clears origin data by default", func(t *testing.T) {
		t.Parallel()
		fixture := setupRunnerTest(t)
		fixture.successfulNavigation()
		passes := []schemas.PassConfig{
			{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
				fixture.binding(&mockGatherer{name: "Alpha", passValue: "v"}),
			}},
		}
		_, err := fixture.Runner.Run(context.Background(), passes, fixture.runOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, fixture.Driver.calledCount("ClearDataForOrigin"))
	})

	t.Run("skips the reset when disabled", func(t *testing.T) {
		t.Parallel()
		fixture := setupRunnerTest(t)
		fixture.successfulNavigation()
		opts := fixture.runOptions()
		opts.Settings.DisableStorageReset = true
		passes := []schemas.PassConfig{
			{PassName: "defaultPass", Gatherers: []schemas.GathererBinding{
				fixture.binding(&mockGatherer{name: "Alpha", passValue: "v"}),
			}},
		}
		_, err := fixture.Runner.Run(context.Background(), passes, opts)
		require.NoError(t, err)
		assert.Equal(t, 0, fixture.Driver.calledCount("ClearDataForOrigin"))
	})
}

func TestBlankPageResolution(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "about:blank", blankPage(schemas.Settings{}, nil))
	assert.Equal(t, "about:srcdoc", blankPage(schemas.Settings{BlankPage: "about:srcdoc"}, nil))
	assert.Equal(t, "https://blank.example",
		blankPage(schemas.Settings{BlankPage: "about:srcdoc"}, &schemas.PassConfig{BlankPage: "https://blank.example"}))
}
