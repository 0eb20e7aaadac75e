// File: internal/driver/recorder.go
// Description: Protocol event recorder. Subscribed once at Connect time, it
// turns raw CDP events into the devtools log, the network record table, and
// the trace buffer the gather engine consumes.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/tracing"
	jsoniter "github.com/json-iterator/go"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// recorder accumulates devtools events, network records, and trace events
// while the corresponding capture window is open. A single instance lives
// for the whole browser session; each pass opens and closes its own window.
type recorder struct {
	mu sync.Mutex

	logActive bool
	events    []schemas.DevtoolsEvent
	records   []*schemas.NetworkRecord
	// byRequest maps a request ID to its index in records, so response and
	// failure events can update the record the request created.
	byRequest map[network.RequestID]int

	traceActive bool
	traceEvents []json.RawMessage
	traceDone   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) startLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logActive = true
	r.events = nil
	r.records = nil
	r.byRequest = make(map[network.RequestID]int)
}

func (r *recorder) stopLog() ([]schemas.DevtoolsEvent, []*schemas.NetworkRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logActive = false
	events, records := r.events, r.records
	r.events, r.records, r.byRequest = nil, nil, nil
	return events, records
}

func (r *recorder) startTrace() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceActive = true
	r.traceEvents = nil
	r.traceDone = make(chan struct{})
}

// waitTraceComplete blocks until the browser reports the trace stream
// flushed, the timeout passes, or the context is canceled.
func (r *recorder) waitTraceComplete(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	done := r.traceDone
	r.mu.Unlock()
	if done == nil {
		return fmt.Errorf("no trace in progress")
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for trace data after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recorder) stopTrace() *schemas.Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceActive = false
	trace := &schemas.Trace{TraceEvents: r.traceEvents}
	r.traceEvents = nil
	r.traceDone = nil
	return trace
}

// handleEvent is the single ListenTarget sink for the tab. Events arriving
// outside an open capture window are dropped.
func (r *recorder) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.onRequestWillBeSent(e)
	case *network.EventResponseReceived:
		r.onResponseReceived(e)
	case *network.EventLoadingFailed:
		r.onLoadingFailed(e)
	case *tracing.EventDataCollected:
		r.onTraceData(e)
	case *tracing.EventTracingComplete:
		r.onTraceComplete()
	}
}

func (r *recorder) onRequestWillBeSent(e *network.EventRequestWillBeSent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.logActive {
		return
	}

	params := map[string]any{
		"requestId":   string(e.RequestID),
		"documentURL": e.DocumentURL,
		"request": map[string]any{
			"url":     e.Request.URL,
			"method":  e.Request.Method,
			"headers": map[string]any(e.Request.Headers),
		},
	}
	if e.FrameID != "" {
		params["frameId"] = string(e.FrameID)
	}
	r.appendEvent("Network.requestWillBeSent", params)

	// On a redirect, the browser reuses the request ID. Close out the prior
	// record with the redirect status before opening the next one.
	if e.RedirectResponse != nil {
		if idx, ok := r.byRequest[e.RequestID]; ok {
			r.records[idx].StatusCode = e.RedirectResponse.Status
		}
	}

	record := &schemas.NetworkRecord{
		RequestID:   string(e.RequestID),
		URL:         e.Request.URL,
		DocumentURL: e.DocumentURL,
		FrameID:     string(e.FrameID),
	}
	if e.Type != "" {
		record.ResourceType = e.Type.String()
	}
	r.byRequest[e.RequestID] = len(r.records)
	r.records = append(r.records, record)
}

func (r *recorder) onResponseReceived(e *network.EventResponseReceived) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.logActive {
		return
	}

	r.appendEvent("Network.responseReceived", map[string]any{
		"requestId": string(e.RequestID),
		"response": map[string]any{
			"url":      e.Response.URL,
			"status":   e.Response.Status,
			"protocol": e.Response.Protocol,
			"headers":  map[string]any(e.Response.Headers),
		},
	})

	idx, ok := r.byRequest[e.RequestID]
	if !ok {
		return
	}
	record := r.records[idx]
	record.StatusCode = e.Response.Status
	record.Protocol = e.Response.Protocol
}

func (r *recorder) onLoadingFailed(e *network.EventLoadingFailed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.logActive {
		return
	}

	r.appendEvent("Network.loadingFailed", map[string]any{
		"requestId": string(e.RequestID),
		"errorText": e.ErrorText,
		"canceled":  e.Canceled,
	})

	idx, ok := r.byRequest[e.RequestID]
	if !ok {
		return
	}
	record := r.records[idx]
	record.Failed = true
	record.LocalizedFailDescription = e.ErrorText
}

func (r *recorder) appendEvent(method string, params map[string]any) {
	raw, err := jsonAPI.Marshal(params)
	if err != nil {
		return
	}
	r.events = append(r.events, schemas.DevtoolsEvent{Method: method, Params: raw})
}

func (r *recorder) onTraceData(e *tracing.EventDataCollected) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.traceActive {
		return
	}
	for _, v := range e.Value {
		r.traceEvents = append(r.traceEvents, json.RawMessage(v))
	}
}

func (r *recorder) onTraceComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.traceDone != nil {
		select {
		case <-r.traceDone:
		default:
			close(r.traceDone)
		}
	}
}
