// File: internal/gather/runner.go
// Description: Top-level sequencer for the multi-pass gather engine. Drives
// the browser through each configured pass, coordinates recording and the
// gatherer pipeline, and assembles the run's final artifact set.
package gather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

const defaultBlankPage = "about:blank"

// Runner composes the gatherer pipeline, artifact collection, load-error
// classification, and base-artifact bookkeeping across the configured list
// of passes. Passes execute strictly one after another; there is exactly one
// logical thread of control per run.
type Runner struct {
	logger   *zap.Logger
	pipeline *Pipeline
	base     *BaseArtifactsManager
}

// NewRunner creates a gather runner.
func NewRunner(logger *zap.Logger) *Runner {
	log := logger.Named("gather")
	return &Runner{
		logger:   log,
		pipeline: NewPipeline(log),
		base:     NewBaseArtifactsManager(log),
	}
}

// passResult is what one pass hands back to the run loop.
type passResult struct {
	artifacts     map[string]any
	pageLoadError *schemas.PageError
	loadData      *schemas.LoadData
}

// Run executes every configured pass and returns the merged artifact set.
// Connection or session-setup failures abort the run; a per-pass load error
// truncates the remaining passes but still returns everything collected so
// far. On any fatal error the driver is disposed best-effort before the
// original error is returned, so a teardown issue never masks the root
// cause.
func (r *Runner) Run(ctx context.Context, passes []schemas.PassConfig, opts schemas.RunOptions) (*schemas.FinalArtifacts, error) {
	runID := uuid.New().String()
	log := r.logger.With(zap.String("run_id", runID[:8]))
	log.Info("Starting gather run",
		zap.String("url", opts.RequestedURL),
		zap.Int("passes", len(passes)))

	drv := opts.Driver
	if err := drv.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	final, err := r.runConnected(ctx, log, passes, opts)
	// The success path disposes inside runConnected, before finalize; this
	// covers every failure path.
	if err != nil {
		r.disposeDriver(ctx, log, drv)
		return nil, err
	}
	return final, nil
}

func (r *Runner) runConnected(ctx context.Context, log *zap.Logger, passes []schemas.PassConfig, opts schemas.RunOptions) (*schemas.FinalArtifacts, error) {
	runStart := time.Now()
	drv := opts.Driver

	if _, err := drv.GotoURL(ctx, blankPage(opts.Settings, nil), schemas.NavigationOptions{}); err != nil {
		return nil, fmt.Errorf("failed to reset to blank page: %w", err)
	}

	base, err := r.base.Initialize(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := r.setupDriver(ctx, drv, opts); err != nil {
		return nil, fmt.Errorf("browser session setup failed: %w", err)
	}

	gathererArtifacts := make(map[string]any)
	var timings []schemas.TimingEntry
	populated := false

	for _, pass := range passes {
		passStart := time.Now()
		pc := &schemas.PassContext{
			Driver:        drv,
			URL:           opts.RequestedURL,
			Settings:      opts.Settings,
			PassConfig:    pass,
			BaseArtifacts: base,
		}

		result, err := r.runPass(ctx, log, pc)
		base.RunWarnings = append(base.RunWarnings, pc.Warnings()...)
		timings = append(timings, schemas.TimingEntry{
			Name:     "gather:pass:" + pass.PassName,
			Start:    passStart,
			Duration: time.Since(passStart),
		})
		if err != nil {
			return nil, err
		}

		for name, artifact := range result.artifacts {
			gathererArtifacts[name] = artifact
		}

		if result.pageLoadError != nil {
			base.PageLoadError = result.pageLoadError
			log.Warn("Pass reported a page load error; skipping remaining passes",
				zap.String("pass", pass.PassName),
				zap.String("code", string(result.pageLoadError.Code)))
			break
		}

		if !populated {
			if err := r.base.Populate(ctx, pc, result.loadData); err != nil {
				return nil, err
			}
			populated = true
		}
	}

	r.disposeDriver(ctx, log, drv)

	timings = append(timings, schemas.TimingEntry{
		Name:     "gather:total",
		Start:    runStart,
		Duration: time.Since(runStart),
	})
	r.base.Finalize(base, timings)

	log.Info("Gather run complete",
		zap.Int("artifacts", len(gathererArtifacts)),
		zap.Bool("pageLoadError", base.PageLoadError != nil))
	return &schemas.FinalArtifacts{Base: *base, Gatherers: gathererArtifacts}, nil
}

// runPass executes one full navigate-and-record cycle.
func (r *Runner) runPass(ctx context.Context, log *zap.Logger, pc *schemas.PassContext) (*passResult, error) {
	drv := pc.Driver
	pass := pc.PassConfig
	log = log.With(zap.String("pass", pass.PassName))
	log.Debug("Starting pass")

	// Blank page first, so lingering activity from the previous pass cannot
	// bleed into this pass's recording.
	if _, err := drv.GotoURL(ctx, blankPage(pc.Settings, &pass), schemas.NavigationOptions{}); err != nil {
		return nil, fmt.Errorf("failed to navigate to blank page: %w", err)
	}

	if err := r.setupPassNetwork(ctx, pc); err != nil {
		return nil, fmt.Errorf("failed to configure pass network conditions: %w", err)
	}

	if isPerfPass(pc) {
		if err := drv.CleanBrowserCaches(ctx); err != nil {
			return nil, fmt.Errorf("failed to clean browser caches: %w", err)
		}
	}

	results := make(GathererResults)
	r.pipeline.BeforePass(ctx, pc, results)

	if err := drv.BeginDevtoolsLog(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin protocol log recording: %w", err)
	}
	if pass.RecordTrace {
		if err := drv.BeginTrace(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin trace recording: %w", err)
		}
	}

	// Navigate to the target. Only no-first-paint and page-hung are
	// recoverable; they downgrade into a reported load error below. Any
	// other driver error aborts the run.
	var navigationError error
	finalURL, err := drv.GotoURL(ctx, pc.URL, schemas.NavigationOptions{
		WaitForLoad:    true,
		WaitForFCP:     pass.RecordTrace,
		MaxWaitForLoad: pc.Settings.MaxWaitForLoad,
	})
	if err != nil {
		if !schemas.IsRecoverableNavigationError(err) {
			return nil, fmt.Errorf("navigation to %s failed: %w", pc.URL, err)
		}
		navigationError = err
		log.Warn("Navigation failed recoverably", zap.Error(err))
	} else {
		pc.URL = finalURL
	}

	r.pipeline.Pass(ctx, pc, results)

	loadData := &schemas.LoadData{}
	if pass.RecordTrace {
		trace, err := drv.EndTrace(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to end trace recording: %w", err)
		}
		loadData.Trace = trace
	}
	devtoolsLog, records, err := drv.EndDevtoolsLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to end protocol log recording: %w", err)
	}
	loadData.DevtoolsLog = devtoolsLog
	loadData.NetworkRecords = records

	// After-pass analysis runs unthrottled.
	if err := drv.DisableThrottling(ctx); err != nil {
		return nil, fmt.Errorf("failed to disable throttling: %w", err)
	}

	if pageLoadError := GetPageLoadError(pc, loadData, navigationError); pageLoadError != nil {
		pc.AddWarning(pageLoadError.FriendlyMessage())
		r.storeRecording(pc, "pageLoadError-"+pass.PassName, loadData)
		return &passResult{pageLoadError: pageLoadError, loadData: loadData}, nil
	}

	r.storeRecording(pc, pass.PassName, loadData)
	r.pipeline.AfterPass(ctx, pc, loadData, results)

	artifacts, err := CollectArtifacts(pass.Gatherers, results)
	if err != nil {
		return nil, err
	}
	log.Debug("Pass complete", zap.Int("artifacts", len(artifacts)))
	return &passResult{artifacts: artifacts, loadData: loadData}, nil
}

// isPerfPass reports whether this pass warrants an extra disk/memory cache
// clear: storage reset enabled, trace requested, and throttling in use.
func isPerfPass(pc *schemas.PassContext) bool {
	return !pc.Settings.DisableStorageReset && pc.PassConfig.RecordTrace && pc.PassConfig.UseThrottling
}

// setupDriver configures the browser session once per run, before any pass.
func (r *Runner) setupDriver(ctx context.Context, drv schemas.Driver, opts schemas.RunOptions) error {
	if err := drv.AssertNoSameOriginServiceWorkerClients(ctx, opts.RequestedURL); err != nil {
		return err
	}
	if err := drv.BeginEmulation(ctx, opts.Settings); err != nil {
		return err
	}
	if err := drv.EnableRuntimeEvents(ctx); err != nil {
		return err
	}
	if err := drv.EnableAsyncStacks(ctx); err != nil {
		return err
	}
	if err := drv.CacheNatives(ctx); err != nil {
		return err
	}
	if err := drv.RegisterPerformanceObserver(ctx); err != nil {
		return err
	}
	if err := drv.DismissJavaScriptDialogs(ctx); err != nil {
		return err
	}
	if !opts.Settings.DisableStorageReset {
		if err := drv.ClearDataForOrigin(ctx, opts.RequestedURL); err != nil {
			return err
		}
	}
	return nil
}

// setupPassNetwork applies this pass's network conditions: throttling, URL
// blocking merged from pass and run settings, extra headers, and cookies.
func (r *Runner) setupPassNetwork(ctx context.Context, pc *schemas.PassContext) error {
	drv := pc.Driver

	if pc.PassConfig.UseThrottling {
		if err := drv.SetThrottling(ctx, pc.Settings, pc.PassConfig); err != nil {
			return err
		}
	} else {
		if err := drv.DisableThrottling(ctx); err != nil {
			return err
		}
	}

	patterns := make([]string, 0, len(pc.PassConfig.BlockedURLPatterns)+len(pc.Settings.BlockedURLPatterns))
	patterns = append(patterns, pc.PassConfig.BlockedURLPatterns...)
	patterns = append(patterns, pc.Settings.BlockedURLPatterns...)
	if err := drv.BlockURLPatterns(ctx, patterns); err != nil {
		return err
	}

	if len(pc.Settings.ExtraHeaders) > 0 {
		if err := drv.SetExtraHTTPHeaders(ctx, pc.Settings.ExtraHeaders); err != nil {
			return err
		}
	}

	if len(pc.Settings.ExtraCookies) > 0 {
		cookies := make([]schemas.Cookie, len(pc.Settings.ExtraCookies))
		for i, c := range pc.Settings.ExtraCookies {
			// A cookie without an explicit URL or domain applies to the page
			// under test.
			if c.URL == "" && c.Domain == "" {
				c.URL = pc.URL
			}
			cookies[i] = c
		}
		if err := drv.SetCookies(ctx, cookies); err != nil {
			return err
		}
	}
	return nil
}

// storeRecording files the pass's captured log and trace under the given key.
func (r *Runner) storeRecording(pc *schemas.PassContext, key string, loadData *schemas.LoadData) {
	pc.BaseArtifacts.DevtoolsLogs[key] = loadData.DevtoolsLog
	if loadData.Trace != nil {
		pc.BaseArtifacts.Traces[key] = loadData.Trace
	}
}

// disposeDriver disconnects best-effort. Expected "connection already gone"
// errors are swallowed; anything suspicious is logged but never raised.
func (r *Runner) disposeDriver(ctx context.Context, log *zap.Logger, drv schemas.Driver) {
	if err := drv.Disconnect(ctx); err != nil {
		if isExpectedDisposalError(err) {
			return
		}
		log.Warn("Unexpected error while disconnecting browser", zap.Error(err))
	}
}

func isExpectedDisposalError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "already closed") ||
		strings.Contains(msg, "websocket: close")
}

// blankPage resolves the neutral page for a pass: the pass override, the
// run-level setting, then about:blank.
func blankPage(settings schemas.Settings, pass *schemas.PassConfig) string {
	if pass != nil && pass.BlankPage != "" {
		return pass.BlankPage
	}
	if settings.BlankPage != "" {
		return settings.BlankPage
	}
	return defaultBlankPage
}
