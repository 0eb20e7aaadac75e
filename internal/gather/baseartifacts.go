// File: internal/gather/baseartifacts.go
package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// mobileUAMarkers are case-sensitive substrings denoting mobile OS/browser
// identity in the host user agent.
var mobileUAMarkers = []string{"Android", "Mobile"}

// stacksExpression probes the page for well-known framework globals. It runs
// in the page and resolves to a JSON array of stack signals.
const stacksExpression = `(() => {
	const stacks = [];
	if (window.React || document.querySelector('[data-reactroot], [data-reactid]')) {
		stacks.push({id: 'react', name: 'React', version: (window.React && window.React.version) || ''});
	}
	if (window.Vue) {
		stacks.push({id: 'vue', name: 'Vue', version: window.Vue.version || ''});
	}
	if (window.angular) {
		stacks.push({id: 'angularjs', name: 'AngularJS', version: (window.angular.version && window.angular.version.full) || ''});
	}
	if (window.jQuery && window.jQuery.fn) {
		stacks.push({id: 'jquery', name: 'jQuery', version: window.jQuery.fn.jquery || ''});
	}
	if (window.next && window.next.version) {
		stacks.push({id: 'next', name: 'Next.js', version: window.next.version});
	}
	return stacks;
})()`

// BaseArtifactsManager builds and maintains the run-wide metadata spanning
// all passes.
type BaseArtifactsManager struct {
	logger *zap.Logger
}

// NewBaseArtifactsManager creates a base artifacts manager.
func NewBaseArtifactsManager(logger *zap.Logger) *BaseArtifactsManager {
	return &BaseArtifactsManager{logger: logger.Named("base_artifacts")}
}

// Initialize populates the run-wide defaults: fetch timestamp, host user
// agent, benchmark index, and the mobile-device classification. Failures
// here are fatal: they mean the browser session is not usable.
func (m *BaseArtifactsManager) Initialize(ctx context.Context, opts schemas.RunOptions) (*schemas.BaseArtifacts, error) {
	version, err := opts.Driver.GetBrowserVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch browser version: %w", err)
	}
	benchmarkIndex, err := opts.Driver.GetBenchmarkIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute benchmark index: %w", err)
	}

	return &schemas.BaseArtifacts{
		FetchTime:            time.Now(),
		RunWarnings:          []string{},
		TestedAsMobileDevice: DetectMobile(opts.Settings.FormFactor, version.UserAgent),
		HostUserAgent:        version.UserAgent,
		BenchmarkIndex:       benchmarkIndex,
		DevtoolsLogs:         make(map[string][]schemas.DevtoolsEvent),
		Traces:               make(map[string]*schemas.Trace),
		Settings:             opts.Settings,
		URL:                  schemas.URLArtifact{RequestedURL: opts.RequestedURL},
	}, nil
}

// Populate runs once, after the first pass that completed without a load
// error. It copies the post-redirect URL, fetches the manifest, collects
// framework signals, and scans the protocol log for the network-observed
// user agent.
func (m *BaseArtifactsManager) Populate(ctx context.Context, pc *schemas.PassContext, loadData *schemas.LoadData) error {
	base := pc.BaseArtifacts
	base.URL.FinalURL = pc.URL

	payload, err := pc.Driver.GetAppManifest(ctx)
	switch {
	case err != nil:
		// A manifest fetch failure is never fatal to the run.
		m.logger.Warn("Failed to fetch web app manifest", zap.Error(err))
	case payload == nil:
		base.WebAppManifest = nil
	default:
		base.WebAppManifest = parseManifest(payload)
	}

	var stacks []schemas.Stack
	if err := pc.Driver.EvaluateAsync(ctx, stacksExpression, &stacks); err != nil {
		m.logger.Warn("Failed to collect framework stack signals", zap.Error(err))
	} else {
		base.Stacks = stacks
	}

	base.NetworkUserAgent = findNetworkUserAgent(loadData.DevtoolsLog)
	return nil
}

// Finalize deduplicates run warnings, preserving first-occurrence order, and
// copies the accumulated timing entries into the artifact set.
func (m *BaseArtifactsManager) Finalize(base *schemas.BaseArtifacts, timings []schemas.TimingEntry) {
	base.RunWarnings = DedupeWarnings(base.RunWarnings)
	base.Timing = append(base.Timing, timings...)
}

// DetectMobile reports whether the run is treated as a mobile-device test:
// true when the emulated form factor is explicitly "mobile", false when it
// is explicitly "desktop", otherwise derived from the host user agent.
func DetectMobile(formFactor, hostUserAgent string) bool {
	switch formFactor {
	case "mobile":
		return true
	case "desktop":
		return false
	}
	for _, marker := range mobileUAMarkers {
		// Case-sensitive: "mobile" in a product token is not the same signal
		// as the "Mobile" platform marker.
		if strings.Contains(hostUserAgent, marker) {
			return true
		}
	}
	return false
}

// DedupeWarnings removes duplicate warnings, keeping the original order of
// first occurrence.
func DedupeWarnings(warnings []string) []string {
	seen := make(map[string]struct{}, len(warnings))
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// parseManifest converts the raw fetch payload into the manifest artifact.
// A present-but-unparseable manifest produces an artifact with no value and
// a warning reason, never an error.
func parseManifest(payload *schemas.ManifestPayload) *schemas.WebAppManifest {
	manifest := &schemas.WebAppManifest{URL: payload.URL, Raw: payload.Data}

	var value map[string]any
	if err := json.Unmarshal([]byte(payload.Data), &value); err != nil {
		manifest.Warning = fmt.Sprintf("Manifest could not be parsed as JSON: %v", err)
		return manifest
	}
	manifest.Value = value
	return manifest
}

// findNetworkUserAgent scans the protocol log for the first request-sent
// entry carrying a User-Agent header. Returns empty when none is found.
func findNetworkUserAgent(devtoolsLog []schemas.DevtoolsEvent) string {
	type requestSent struct {
		Request struct {
			Headers map[string]any `json:"headers"`
		} `json:"request"`
	}

	for _, ev := range devtoolsLog {
		if ev.Method != "Network.requestWillBeSent" {
			continue
		}
		var params requestSent
		if err := json.Unmarshal(ev.Params, &params); err != nil {
			continue
		}
		if ua, ok := params.Request.Headers["User-Agent"].(string); ok && ua != "" {
			return ua
		}
	}
	return ""
}
