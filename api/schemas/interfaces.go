package schemas

import (
	"context"
)

// -- Driver Interface --

// Driver abstracts connection to and control of the remote instrumented
// browser. The gather engine is the only consumer; internal/driver ships the
// chromedp-backed implementation. Every method honors ctx cancellation.
type Driver interface {
	// Connect launches or attaches to the browser. Failure aborts the run.
	Connect(ctx context.Context) error
	// Disconnect tears the browser down. "Already closed" style errors are
	// expected during shutdown and should be returned as-is for the caller
	// to classify.
	Disconnect(ctx context.Context) error

	// GotoURL navigates and returns the final post-redirect URL. Recoverable
	// load failures (no first paint, page hung) are returned as *PageError;
	// anything else is fatal to the run.
	GotoURL(ctx context.Context, url string, opts NavigationOptions) (string, error)

	// Online reports whether the session has network access. An intentionally
	// offline session suppresses page-load-error reporting entirely.
	Online() bool

	// -- Session setup --

	AssertNoSameOriginServiceWorkerClients(ctx context.Context, pageURL string) error
	BeginEmulation(ctx context.Context, settings Settings) error
	EnableRuntimeEvents(ctx context.Context) error
	EnableAsyncStacks(ctx context.Context) error
	CacheNatives(ctx context.Context) error
	RegisterPerformanceObserver(ctx context.Context) error
	DismissJavaScriptDialogs(ctx context.Context) error
	ClearDataForOrigin(ctx context.Context, pageURL string) error
	CleanBrowserCaches(ctx context.Context) error

	// -- Per-pass network conditions --

	SetThrottling(ctx context.Context, settings Settings, pass PassConfig) error
	DisableThrottling(ctx context.Context) error
	BlockURLPatterns(ctx context.Context, patterns []string) error
	SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error
	SetCookies(ctx context.Context, cookies []Cookie) error

	// -- Recording --

	BeginDevtoolsLog(ctx context.Context) error
	EndDevtoolsLog(ctx context.Context) ([]DevtoolsEvent, []*NetworkRecord, error)
	BeginTrace(ctx context.Context) error
	EndTrace(ctx context.Context) (*Trace, error)

	// -- Scroll control --

	GetScrollPosition(ctx context.Context) (ScrollPosition, error)
	ScrollTo(ctx context.Context, pos ScrollPosition) error

	// -- Page and host metadata --

	// GetAppManifest returns nil when the page declares no manifest.
	GetAppManifest(ctx context.Context) (*ManifestPayload, error)
	GetBrowserVersion(ctx context.Context) (BrowserVersion, error)
	GetBenchmarkIndex(ctx context.Context) (float64, error)

	// EvaluateAsync runs an expression in the page and unmarshals the
	// awaited result into out.
	EvaluateAsync(ctx context.Context, expression string, out any) error
}

// -- Gatherer Interface --

// Gatherer is a pluggable observer invoked at three lifecycle points per
// pass. Each hook returns the artifact value for that phase, or nil for the
// absent marker. A returned error is captured as the gatherer's artifact and
// never aborts the pass; only a run with zero non-absent phases for a
// gatherer is fatal.
type Gatherer interface {
	// Name keys this gatherer's artifact in the final artifact set.
	Name() string
	// BeforePass runs before recording begins, on the blank page.
	BeforePass(ctx context.Context, pc *PassContext, opts map[string]any) (any, error)
	// Pass runs after the target page has loaded, while recording.
	Pass(ctx context.Context, pc *PassContext, opts map[string]any) (any, error)
	// AfterPass runs once recording has ended, with the pass's load data.
	AfterPass(ctx context.Context, pc *PassContext, loadData *LoadData, opts map[string]any) (any, error)
}
