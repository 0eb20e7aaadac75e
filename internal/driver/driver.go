// File: internal/driver/driver.go
// Description: chromedp-backed implementation of the schemas.Driver
// contract. Owns the browser process and the single tab the gather engine
// drives; recording is handled by the recorder in recorder.go.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/cdproto/tracing"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens-cli/api/schemas"
	"github.com/pagelens/pagelens-cli/internal/config"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	fcpPollInterval          = 300 * time.Millisecond
	fcpMaxWait               = 5 * time.Second
	traceCompleteTimeout     = 10 * time.Second
)

const fcpExpression = `performance.getEntriesByType('paint').some(e => e.name === 'first-contentful-paint')`

// benchmarkExpression estimates host CPU speed with a short busy loop.
const benchmarkExpression = `(() => {
	const start = performance.now();
	let iterations = 0;
	while (performance.now() - start < 100) {
		iterations++;
	}
	return Math.round(iterations / 10);
})()`

// manifestExpression locates and fetches the page's declared manifest.
// Resolves to null when the page declares none.
const manifestExpression = `(async () => {
	const link = document.querySelector('link[rel="manifest"]');
	if (!link || !link.href) return null;
	try {
		const resp = await fetch(link.href);
		return {url: link.href, data: await resp.text()};
	} catch (e) {
		return {url: link.href, data: ''};
	}
})()`

// cacheNativesScript preserves references to natives the instrumented page
// may later clobber.
const cacheNativesScript = `(() => {
	window.__nativePromise = Promise;
	window.__nativePerformance = performance;
	window.__nativeFetch = fetch.bind(window);
	window.__nativeURL = URL;
})()`

// performanceObserverScript registers a long-task observer before any page
// script runs.
const performanceObserverScript = `(() => {
	window.____lastLongTask = window.__nativePerformance ? window.__nativePerformance.now() : performance.now();
	const observer = new PerformanceObserver(entryList => {
		for (const entry of entryList.getEntries()) {
			if (entry.entryType === 'longtask') {
				window.____lastLongTask = entry.startTime + entry.duration;
			}
		}
	});
	observer.observe({entryTypes: ['longtask']});
	window.____longTaskObserver = observer;
})()`

// Driver drives a single headless browser tab over CDP.
type Driver struct {
	logger *zap.Logger
	cfg    *config.Config

	// allocatorCtx manages the browser process; tabCtx is the one tab the
	// whole run drives.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	tabCtx          context.Context
	tabCancel       context.CancelFunc

	recorder *recorder
	online   bool
	closed   bool
}

var _ schemas.Driver = (*Driver)(nil)

// New creates a driver. Connect must be called before any other method.
func New(cfg *config.Config, logger *zap.Logger) *Driver {
	return &Driver{
		logger:   logger.Named("driver"),
		cfg:      cfg,
		recorder: newRecorder(),
		online:   true,
	}
}

// Connect launches the browser process, opens the tab, verifies it responds,
// and installs the protocol event listener.
func (d *Driver) Connect(ctx context.Context) error {
	if d.tabCtx != nil {
		return fmt.Errorf("driver already connected")
	}
	d.logger.Info("Launching browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
	d.allocatorCtx = allocCtx
	d.allocatorCancel = allocCancel

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	d.tabCtx = tabCtx
	d.tabCancel = tabCancel

	chromedp.ListenTarget(tabCtx, d.recorder.handleEvent)

	// A short round trip confirms the browser started and responds.
	verifyCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(verifyCtx, chromedp.Navigate("about:blank"), network.Enable()); err != nil {
		d.allocatorCancel()
		d.tabCtx = nil
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	d.logger.Info("Browser launched and responsive")
	return nil
}

// allocatorOptions assembles the browser launch flags, starting from the
// stock set and applying container-safe defaults on Linux. Later flags win,
// so config-supplied args override anything here.
func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", d.cfg.Browser.Headless),
		chromedp.Flag("ignore-certificate-errors", d.cfg.Browser.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", d.cfg.Browser.Headless),
	)

	for _, arg := range d.cfg.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// Disconnect terminates the tab and the browser process. Safe to call more
// than once.
func (d *Driver) Disconnect(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.logger.Info("Shutting down browser")

	if d.tabCancel != nil {
		d.tabCancel()
	}
	if d.allocatorCancel != nil {
		d.allocatorCancel()
		<-d.allocatorCtx.Done()
	}
	return nil
}

// Online reports whether the session has network access. This driver never
// configures an offline session.
func (d *Driver) Online() bool {
	return d.online
}

// run executes chromedp actions on the tab, honoring the caller's context.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if d.tabCtx == nil {
		return fmt.Errorf("driver not connected")
	}
	opCtx, cancel := CombineContext(d.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// GotoURL navigates the tab and returns the final post-redirect URL. A load
// deadline becomes a PAGE_HUNG error; a missing first contentful paint
// (when requested) becomes NO_FCP. Both are recoverable; everything else is
// fatal.
func (d *Driver) GotoURL(ctx context.Context, pageURL string, opts schemas.NavigationOptions) (string, error) {
	if d.tabCtx == nil {
		return "", fmt.Errorf("driver not connected")
	}
	timeout := opts.MaxWaitForLoad
	if timeout == 0 {
		timeout = d.cfg.Browser.NavigationTimeout
	}
	if timeout == 0 {
		timeout = defaultNavigationTimeout
	}

	navCtx, cancel := CombineContext(d.tabCtx, ctx)
	defer cancel()
	navCtx, timeoutCancel := context.WithTimeout(navCtx, timeout)
	defer timeoutCancel()

	actions := []chromedp.Action{chromedp.Navigate(pageURL)}
	if opts.WaitForLoad {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", schemas.NewPageError(schemas.ErrPageHung,
				"The page hung and did not finish loading within %s.", timeout)
		}
		return "", fmt.Errorf("navigation to %s failed: %w", pageURL, err)
	}

	if opts.WaitForFCP {
		if err := d.waitForFCP(navCtx); err != nil {
			return "", err
		}
	}

	var finalURL string
	if err := chromedp.Run(navCtx, chromedp.Location(&finalURL)); err != nil {
		return "", fmt.Errorf("failed to read final URL: %w", err)
	}
	return finalURL, nil
}

// waitForFCP polls the paint timeline until a first contentful paint shows
// up or the wait budget runs out.
func (d *Driver) waitForFCP(ctx context.Context) error {
	deadline := time.Now().Add(fcpMaxWait)
	for {
		var painted bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(fcpExpression, &painted)); err != nil {
			return fmt.Errorf("failed to query paint entries: %w", err)
		}
		if painted {
			return nil
		}
		if time.Now().After(deadline) {
			return schemas.NewPageError(schemas.ErrNoFCP,
				"The page loaded but did not paint any content.")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fcpPollInterval):
		}
	}
}

// -- Session setup --

// AssertNoSameOriginServiceWorkerClients fails when a service worker from
// the page's origin is already running, since it would interfere with a
// clean load.
func (d *Driver) AssertNoSameOriginServiceWorkerClients(ctx context.Context, pageURL string) error {
	origin, err := originOf(pageURL)
	if err != nil {
		return fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	var infos []*target.Info
	err = d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var aerr error
		infos, aerr = target.GetTargets().Do(cctx)
		return aerr
	}))
	if err != nil {
		return fmt.Errorf("failed to enumerate browser targets: %w", err)
	}

	for _, info := range infos {
		if info.Type != "service_worker" {
			continue
		}
		if workerOrigin, oerr := originOf(info.URL); oerr == nil && workerOrigin == origin {
			return fmt.Errorf("a service worker for origin %s is already registered; close other tabs for this origin and retry", origin)
		}
	}
	return nil
}

// BeginEmulation applies the device metrics for the configured form factor.
func (d *Driver) BeginEmulation(ctx context.Context, settings schemas.Settings) error {
	if settings.FormFactor == "mobile" {
		return d.run(ctx,
			emulation.SetDeviceMetricsOverride(412, 823, 2.625, true),
			emulation.SetTouchEmulationEnabled(true),
		)
	}
	return d.run(ctx, emulation.SetDeviceMetricsOverride(1350, 940, 1, false))
}

// EnableRuntimeEvents turns on runtime event delivery.
func (d *Driver) EnableRuntimeEvents(ctx context.Context) error {
	return d.run(ctx, cdpruntime.Enable())
}

// EnableAsyncStacks enables the debugger domain with async stack capture so
// exception reports carry cross-task stacks.
func (d *Driver) EnableAsyncStacks(ctx context.Context) error {
	return d.run(ctx,
		chromedp.ActionFunc(func(cctx context.Context) error {
			_, err := debugger.Enable().Do(cctx)
			return err
		}),
		debugger.SetAsyncCallStackDepth(32),
	)
}

// CacheNatives stashes native bindings before any page script can replace
// them.
func (d *Driver) CacheNatives(ctx context.Context) error {
	return d.addScriptOnNewDocument(ctx, cacheNativesScript)
}

// RegisterPerformanceObserver installs the long-task observer on every new
// document.
func (d *Driver) RegisterPerformanceObserver(ctx context.Context) error {
	return d.addScriptOnNewDocument(ctx, performanceObserverScript)
}

func (d *Driver) addScriptOnNewDocument(ctx context.Context, script string) error {
	return d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(cctx)
		return err
	}))
}

// DismissJavaScriptDialogs auto-dismisses any dialog the page opens so a
// stray alert can never stall a pass.
func (d *Driver) DismissJavaScriptDialogs(ctx context.Context) error {
	if d.tabCtx == nil {
		return fmt.Errorf("driver not connected")
	}
	chromedp.ListenTarget(d.tabCtx, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(d.tabCtx, page.HandleJavaScriptDialog(false)); err != nil {
					d.logger.Debug("Failed to dismiss dialog", zap.Error(err))
				}
			}()
		}
	})
	return nil
}

// ClearDataForOrigin resets the origin's storage so the page loads cold.
func (d *Driver) ClearDataForOrigin(ctx context.Context, pageURL string) error {
	origin, err := originOf(pageURL)
	if err != nil {
		return fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	return d.run(ctx, storage.ClearDataForOrigin(origin, "all"))
}

// CleanBrowserCaches clears the disk and memory caches.
func (d *Driver) CleanBrowserCaches(ctx context.Context) error {
	return d.run(ctx, network.ClearBrowserCache())
}

// -- Per-pass network conditions --

// SetThrottling applies the configured network and CPU throttling profile.
func (d *Driver) SetThrottling(ctx context.Context, settings schemas.Settings, pass schemas.PassConfig) error {
	throughputBytes := settings.Throttling.ThroughputKbps * 1024 / 8
	actions := []chromedp.Action{
		network.EmulateNetworkConditions(false, settings.Throttling.RTTMs, throughputBytes, throughputBytes),
	}
	if settings.Throttling.CPUSlowdownMultiplier > 0 {
		actions = append(actions, emulation.SetCPUThrottlingRate(settings.Throttling.CPUSlowdownMultiplier))
	}
	return d.run(ctx, actions...)
}

// DisableThrottling restores unthrottled network and CPU conditions.
func (d *Driver) DisableThrottling(ctx context.Context) error {
	return d.run(ctx,
		network.EmulateNetworkConditions(false, 0, -1, -1),
		emulation.SetCPUThrottlingRate(1),
	)
}

// BlockURLPatterns prevents matching requests from leaving the browser.
func (d *Driver) BlockURLPatterns(ctx context.Context, patterns []string) error {
	return d.run(ctx, network.SetBlockedURLS(patterns))
}

// SetExtraHTTPHeaders attaches the headers to every request.
func (d *Driver) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return d.run(ctx, network.SetExtraHTTPHeaders(h))
}

// SetCookies installs the given cookies on the session.
func (d *Driver) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	actions := make([]chromedp.Action, 0, len(cookies))
	for _, c := range cookies {
		params := network.SetCookie(c.Name, c.Value)
		if c.URL != "" {
			params = params.WithURL(c.URL)
		}
		if c.Domain != "" {
			params = params.WithDomain(c.Domain)
		}
		if c.Path != "" {
			params = params.WithPath(c.Path)
		}
		actions = append(actions, params)
	}
	return d.run(ctx, actions...)
}

// -- Recording --

// BeginDevtoolsLog starts capturing protocol events and network records.
func (d *Driver) BeginDevtoolsLog(ctx context.Context) error {
	d.recorder.startLog()
	return nil
}

// EndDevtoolsLog stops capture and returns the recorded protocol log along
// with the network records derived from it.
func (d *Driver) EndDevtoolsLog(ctx context.Context) ([]schemas.DevtoolsEvent, []*schemas.NetworkRecord, error) {
	events, records := d.recorder.stopLog()
	return events, records, nil
}

// BeginTrace starts a performance trace.
func (d *Driver) BeginTrace(ctx context.Context) error {
	d.recorder.startTrace()
	cfg := &tracing.TraceConfig{
		IncludedCategories: []string{
			"-*",
			"devtools.timeline",
			"disabled-by-default-devtools.timeline",
			"disabled-by-default-devtools.timeline.frame",
			"blink.user_timing",
			"loading",
			"v8.execute",
		},
	}
	return d.run(ctx, tracing.Start().WithTraceConfig(cfg))
}

// EndTrace stops the trace and waits for the browser to flush the collected
// events.
func (d *Driver) EndTrace(ctx context.Context) (*schemas.Trace, error) {
	if err := d.run(ctx, tracing.End()); err != nil {
		return nil, fmt.Errorf("failed to stop tracing: %w", err)
	}
	if err := d.recorder.waitTraceComplete(ctx, traceCompleteTimeout); err != nil {
		return nil, err
	}
	return d.recorder.stopTrace(), nil
}

// -- Scroll control --

// GetScrollPosition reads the page scroll offset.
func (d *Driver) GetScrollPosition(ctx context.Context) (schemas.ScrollPosition, error) {
	var pos schemas.ScrollPosition
	err := d.run(ctx, chromedp.Evaluate(`({x: window.scrollX, y: window.scrollY})`, &pos))
	return pos, err
}

// ScrollTo sets the page scroll offset.
func (d *Driver) ScrollTo(ctx context.Context, pos schemas.ScrollPosition) error {
	expr := fmt.Sprintf("window.scrollTo(%f, %f)", pos.X, pos.Y)
	return d.run(ctx, chromedp.Evaluate(expr, nil))
}

// -- Page and host metadata --

// GetAppManifest fetches the page's declared manifest. Nil means the page
// declares none.
func (d *Driver) GetAppManifest(ctx context.Context) (*schemas.ManifestPayload, error) {
	var payload *schemas.ManifestPayload
	if err := d.EvaluateAsync(ctx, manifestExpression, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// GetBrowserVersion reports the browser product string and user agent.
func (d *Driver) GetBrowserVersion(ctx context.Context) (schemas.BrowserVersion, error) {
	var version schemas.BrowserVersion
	err := d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		_, product, _, userAgent, _, aerr := browser.GetVersion().Do(cctx)
		if aerr != nil {
			return aerr
		}
		version = schemas.BrowserVersion{Product: product, UserAgent: userAgent}
		return nil
	}))
	return version, err
}

// GetBenchmarkIndex estimates the host's CPU speed.
func (d *Driver) GetBenchmarkIndex(ctx context.Context) (float64, error) {
	var index float64
	err := d.run(ctx, chromedp.Evaluate(benchmarkExpression, &index))
	return index, err
}

// EvaluateAsync runs an expression in the page, awaiting promises, and
// unmarshals the result into out.
func (d *Driver) EvaluateAsync(ctx context.Context, expression string, out any) error {
	return d.run(ctx, chromedp.Evaluate(expression, out,
		func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true).WithReturnByValue(true)
		}))
}

func originOf(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL has no origin")
	}
	return u.Scheme + "://" + u.Host, nil
}
