// internal/gather/common_test.go
package gather

import (
	"context"
	"sync"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// -- Mock Implementations for Testing --

// mockDriver is a configurable in-memory Driver. Every method records its
// name in calls so tests can assert ordering; behavior is overridden through
// the function fields.
type mockDriver struct {
	mu    sync.Mutex
	calls []string

	online bool

	gotoURLFunc        func(url string, opts schemas.NavigationOptions) (string, error)
	connectErr         error
	disconnectErr      error
	endDevtoolsEvents  []schemas.DevtoolsEvent
	endDevtoolsRecords []*schemas.NetworkRecord
	trace              *schemas.Trace
	scrollPos          schemas.ScrollPosition
	scrollErr          error
	scrolledTo         []schemas.ScrollPosition
	browserVersion     schemas.BrowserVersion
	benchmarkIndex     float64
	manifest           *schemas.ManifestPayload
	manifestErr        error
	evaluateFunc       func(expression string, out any) error
}

func newMockDriver() *mockDriver {
	return &mockDriver{
		online:         true,
		browserVersion: schemas.BrowserVersion{Product: "Chrome/120.0", UserAgent: "TestAgent/1.0"},
		benchmarkIndex: 1000,
	}
}

func (m *mockDriver) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockDriver) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockDriver) calledCount(name string) int {
	count := 0
	for _, c := range m.callLog() {
		if c == name {
			count++
		}
	}
	return count
}

func (m *mockDriver) Connect(ctx context.Context) error {
	m.record("Connect")
	return m.connectErr
}

func (m *mockDriver) Disconnect(ctx context.Context) error {
	m.record("Disconnect")
	return m.disconnectErr
}

func (m *mockDriver) GotoURL(ctx context.Context, url string, opts schemas.NavigationOptions) (string, error) {
	m.record("GotoURL:" + url)
	if m.gotoURLFunc != nil {
		return m.gotoURLFunc(url, opts)
	}
	return url, nil
}

func (m *mockDriver) Online() bool { return m.online }

func (m *mockDriver) AssertNoSameOriginServiceWorkerClients(ctx context.Context, pageURL string) error {
	m.record("AssertNoSameOriginServiceWorkerClients")
	return nil
}

func (m *mockDriver) BeginEmulation(ctx context.Context, settings schemas.Settings) error {
	m.record("BeginEmulation")
	return nil
}

func (m *mockDriver) EnableRuntimeEvents(ctx context.Context) error {
	m.record("EnableRuntimeEvents")
	return nil
}

func (m *mockDriver) EnableAsyncStacks(ctx context.Context) error {
	m.record("EnableAsyncStacks")
	return nil
}

func (m *mockDriver) CacheNatives(ctx context.Context) error {
	m.record("CacheNatives")
	return nil
}

func (m *mockDriver) RegisterPerformanceObserver(ctx context.Context) error {
	m.record("RegisterPerformanceObserver")
	return nil
}

func (m *mockDriver) DismissJavaScriptDialogs(ctx context.Context) error {
	m.record("DismissJavaScriptDialogs")
	return nil
}

func (m *mockDriver) ClearDataForOrigin(ctx context.Context, pageURL string) error {
	m.record("ClearDataForOrigin")
	return nil
}

func (m *mockDriver) CleanBrowserCaches(ctx context.Context) error {
	m.record("CleanBrowserCaches")
	return nil
}

func (m *mockDriver) SetThrottling(ctx context.Context, settings schemas.Settings, pass schemas.PassConfig) error {
	m.record("SetThrottling")
	return nil
}

func (m *mockDriver) DisableThrottling(ctx context.Context) error {
	m.record("DisableThrottling")
	return nil
}

func (m *mockDriver) BlockURLPatterns(ctx context.Context, patterns []string) error {
	m.record("BlockURLPatterns")
	return nil
}

func (m *mockDriver) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	m.record("SetExtraHTTPHeaders")
	return nil
}

func (m *mockDriver) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	m.record("SetCookies")
	return nil
}

func (m *mockDriver) BeginDevtoolsLog(ctx context.Context) error {
	m.record("BeginDevtoolsLog")
	return nil
}

func (m *mockDriver) EndDevtoolsLog(ctx context.Context) ([]schemas.DevtoolsEvent, []*schemas.NetworkRecord, error) {
	m.record("EndDevtoolsLog")
	return m.endDevtoolsEvents, m.endDevtoolsRecords, nil
}

func (m *mockDriver) BeginTrace(ctx context.Context) error {
	m.record("BeginTrace")
	return nil
}

func (m *mockDriver) EndTrace(ctx context.Context) (*schemas.Trace, error) {
	m.record("EndTrace")
	if m.trace != nil {
		return m.trace, nil
	}
	return &schemas.Trace{}, nil
}

func (m *mockDriver) GetScrollPosition(ctx context.Context) (schemas.ScrollPosition, error) {
	m.record("GetScrollPosition")
	return m.scrollPos, m.scrollErr
}

func (m *mockDriver) ScrollTo(ctx context.Context, pos schemas.ScrollPosition) error {
	m.record("ScrollTo")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrolledTo = append(m.scrolledTo, pos)
	return nil
}

func (m *mockDriver) GetAppManifest(ctx context.Context) (*schemas.ManifestPayload, error) {
	m.record("GetAppManifest")
	return m.manifest, m.manifestErr
}

func (m *mockDriver) GetBrowserVersion(ctx context.Context) (schemas.BrowserVersion, error) {
	m.record("GetBrowserVersion")
	return m.browserVersion, nil
}

func (m *mockDriver) GetBenchmarkIndex(ctx context.Context) (float64, error) {
	m.record("GetBenchmarkIndex")
	return m.benchmarkIndex, nil
}

func (m *mockDriver) EvaluateAsync(ctx context.Context, expression string, out any) error {
	m.record("EvaluateAsync")
	if m.evaluateFunc != nil {
		return m.evaluateFunc(expression, out)
	}
	return nil
}

var _ schemas.Driver = (*mockDriver)(nil)

// mockGatherer is a scriptable gatherer; each hook returns its configured
// result and appends to the shared invocation log.
type mockGatherer struct {
	name string

	beforePassValue any
	beforePassErr   error
	passValue       any
	passErr         error
	afterPassValue  any
	afterPassErr    error

	invocations *[]string
}

func (g *mockGatherer) log(stage string) {
	if g.invocations != nil {
		*g.invocations = append(*g.invocations, g.name+":"+stage)
	}
}

func (g *mockGatherer) Name() string { return g.name }

func (g *mockGatherer) BeforePass(ctx context.Context, pc *schemas.PassContext, opts map[string]any) (any, error) {
	g.log("beforePass")
	return g.beforePassValue, g.beforePassErr
}

func (g *mockGatherer) Pass(ctx context.Context, pc *schemas.PassContext, opts map[string]any) (any, error) {
	g.log("pass")
	return g.passValue, g.passErr
}

func (g *mockGatherer) AfterPass(ctx context.Context, pc *schemas.PassContext, loadData *schemas.LoadData, opts map[string]any) (any, error) {
	g.log("afterPass")
	return g.afterPassValue, g.afterPassErr
}

var _ schemas.Gatherer = (*mockGatherer)(nil)
