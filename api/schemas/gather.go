package schemas

import (
	"encoding/json"
	"time"
)

// -- Run configuration --

// PassConfig describes one configured pass: which gatherers run, whether a
// trace is recorded, and the network conditions applied while it runs.
type PassConfig struct {
	// PassName keys this pass's recordings in the base artifacts.
	PassName string `json:"passName"`
	// RecordTrace enables performance tracing for the pass; it also makes
	// navigation wait for a first contentful paint.
	RecordTrace bool `json:"recordTrace"`
	// UseThrottling applies the run's throttling profile during the pass.
	UseThrottling bool `json:"useThrottling"`
	// BlockedURLPatterns are merged with the run-level patterns for this
	// pass only.
	BlockedURLPatterns []string `json:"blockedUrlPatterns,omitempty"`
	// BlankPage overrides the neutral page this pass resets to.
	BlankPage string `json:"blankPage,omitempty"`

	Gatherers []GathererBinding `json:"-"`
}

// GathererBinding pairs a gatherer instance with its per-binding options.
type GathererBinding struct {
	Instance Gatherer
	Options  map[string]any
}

// ThrottlingSettings is the simulated network and CPU profile for throttled
// passes.
type ThrottlingSettings struct {
	RTTMs                 float64 `json:"rttMs" mapstructure:"rtt_ms"`
	ThroughputKbps        float64 `json:"throughputKbps" mapstructure:"throughput_kbps"`
	CPUSlowdownMultiplier float64 `json:"cpuSlowdownMultiplier" mapstructure:"cpu_slowdown_multiplier"`
}

// Settings are the run-wide options shared by every pass.
type Settings struct {
	// FormFactor selects the emulated device class: "mobile", "desktop", or
	// empty to derive it from the host browser.
	FormFactor string `json:"formFactor" mapstructure:"form_factor"`
	// ThrottlingMethod names how throttling is applied. Only "devtools" is
	// implemented.
	ThrottlingMethod string             `json:"throttlingMethod" mapstructure:"throttling_method"`
	Throttling       ThrottlingSettings `json:"throttling" mapstructure:"throttling"`

	BlockedURLPatterns []string          `json:"blockedUrlPatterns,omitempty" mapstructure:"blocked_url_patterns"`
	ExtraHeaders       map[string]string `json:"extraHeaders,omitempty" mapstructure:"extra_headers"`
	ExtraCookies       []Cookie          `json:"extraCookies,omitempty" mapstructure:"extra_cookies"`

	// DisableStorageReset skips clearing origin storage and browser caches,
	// measuring a warm load instead of a cold one.
	DisableStorageReset bool `json:"disableStorageReset" mapstructure:"disable_storage_reset"`
	// MaxWaitForLoad bounds each navigation before it is reported as hung.
	MaxWaitForLoad time.Duration `json:"maxWaitForLoad" mapstructure:"max_wait_for_load"`
	// BlankPage is the neutral page passes reset to between navigations.
	BlankPage string `json:"blankPage,omitempty" mapstructure:"blank_page"`
}

// Cookie is one cookie installed on the session before a pass navigates.
// When neither URL nor Domain is set, the cookie applies to the page under
// test.
type Cookie struct {
	Name   string `json:"name" mapstructure:"name"`
	Value  string `json:"value" mapstructure:"value"`
	URL    string `json:"url,omitempty" mapstructure:"url"`
	Domain string `json:"domain,omitempty" mapstructure:"domain"`
	Path   string `json:"path,omitempty" mapstructure:"path"`
}

// RunOptions carries everything a single gather run needs.
type RunOptions struct {
	RequestedURL string
	Driver       Driver
	Settings     Settings
}

// NavigationOptions controls how a single GotoURL call waits.
type NavigationOptions struct {
	// WaitForLoad waits for the document to be ready before returning.
	WaitForLoad bool
	// WaitForFCP additionally waits for a first contentful paint.
	WaitForFCP bool
	// MaxWaitForLoad bounds the whole navigation; zero uses the driver's
	// configured default.
	MaxWaitForLoad time.Duration
}

// -- Recorded data --

// DevtoolsEvent is one captured protocol event, params kept raw so consumers
// decode only what they need.
type DevtoolsEvent struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// NetworkRecord is the per-request summary derived from the protocol log.
type NetworkRecord struct {
	RequestID   string `json:"requestId"`
	URL         string `json:"url"`
	DocumentURL string `json:"documentURL"`
	Protocol    string `json:"protocol,omitempty"`
	StatusCode  int64  `json:"statusCode"`

	Failed                   bool   `json:"failed,omitempty"`
	LocalizedFailDescription string `json:"localizedFailDescription,omitempty"`

	ResourceType string `json:"resourceType,omitempty"`
	FrameID      string `json:"frameId,omitempty"`
}

// Trace holds the raw trace events recorded during a traced pass.
type Trace struct {
	TraceEvents []json.RawMessage `json:"traceEvents"`
}

// LoadData bundles everything recorded while a pass's page loaded.
type LoadData struct {
	NetworkRecords []*NetworkRecord
	DevtoolsLog    []DevtoolsEvent
	Trace          *Trace
}

// -- Artifacts --

// PhaseResult is the outcome of one gatherer hook invocation.
type PhaseResult struct {
	Value any
	Err   error
}

// Absent reports whether the hook produced neither a value nor an error.
func (p PhaseResult) Absent() bool {
	return p.Value == nil && p.Err == nil
}

// WebAppManifest is the fetched and parsed manifest artifact. Value is nil
// with Warning set when the manifest exists but cannot be parsed.
type WebAppManifest struct {
	URL     string         `json:"url"`
	Raw     string         `json:"raw"`
	Value   map[string]any `json:"value,omitempty"`
	Warning string         `json:"warning,omitempty"`
}

// Stack is one detected frontend framework signal.
type Stack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// TimingEntry records the wall-clock span of one named engine phase.
type TimingEntry struct {
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// URLArtifact pairs the URL the user asked for with the post-redirect URL
// the browser ended on.
type URLArtifact struct {
	RequestedURL string `json:"requestedUrl"`
	FinalURL     string `json:"finalUrl,omitempty"`
}

// BrowserVersion identifies the connected browser.
type BrowserVersion struct {
	Product   string `json:"product"`
	UserAgent string `json:"userAgent"`
}

// ManifestPayload is the raw result of fetching the page's manifest link.
type ManifestPayload struct {
	URL  string `json:"url"`
	Data string `json:"data"`
}

// ScrollPosition is a page scroll offset in CSS pixels.
type ScrollPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BaseArtifacts is the run-wide metadata assembled across all passes.
type BaseArtifacts struct {
	FetchTime            time.Time `json:"fetchTime"`
	RunWarnings          []string  `json:"runWarnings"`
	TestedAsMobileDevice bool      `json:"testedAsMobileDevice"`
	HostUserAgent        string    `json:"hostUserAgent"`
	NetworkUserAgent     string    `json:"networkUserAgent,omitempty"`
	BenchmarkIndex       float64   `json:"benchmarkIndex"`

	WebAppManifest *WebAppManifest `json:"webAppManifest,omitempty"`
	Stacks         []Stack         `json:"stacks,omitempty"`

	// DevtoolsLogs and Traces are keyed by pass name; a pass that ended in a
	// load error files its recordings under "pageLoadError-<passName>".
	DevtoolsLogs map[string][]DevtoolsEvent `json:"devtoolsLogs"`
	Traces       map[string]*Trace          `json:"traces"`

	Settings Settings    `json:"settings"`
	URL      URLArtifact `json:"url"`

	Timing        []TimingEntry `json:"timing"`
	PageLoadError *PageError    `json:"pageLoadError,omitempty"`
}

// FinalArtifacts is the complete output of a gather run.
type FinalArtifacts struct {
	Base      BaseArtifacts  `json:"base"`
	Gatherers map[string]any `json:"gatherers"`
}

// PassContext is the shared state one pass exposes to its gatherers. URL
// starts as the requested URL and is updated to the final post-redirect URL
// once navigation succeeds.
type PassContext struct {
	Driver        Driver
	URL           string
	Settings      Settings
	PassConfig    PassConfig
	BaseArtifacts *BaseArtifacts

	warnings []string
}

// AddWarning queues a user-facing warning for the run.
func (pc *PassContext) AddWarning(warning string) {
	pc.warnings = append(pc.warnings, warning)
}

// Warnings returns the warnings queued during this pass.
func (pc *PassContext) Warnings() []string {
	return pc.warnings
}
