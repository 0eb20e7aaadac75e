// File: internal/gatherers/networkrequests.go
package gatherers

import (
	"context"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// NetworkRequest is the downstream-facing summary of one request observed
// during the pass.
type NetworkRequest struct {
	URL          string `json:"url"`
	StatusCode   int64  `json:"statusCode"`
	Failed       bool   `json:"failed"`
	ResourceType string `json:"resourceType,omitempty"`
}

// NetworkRequests reduces the pass's recorded network records into a
// request summary. It only has an after-pass phase, since the records do
// not exist until recording has ended.
type NetworkRequests struct {
	Base
}

// NewNetworkRequests creates the network requests gatherer.
func NewNetworkRequests() *NetworkRequests {
	return &NetworkRequests{}
}

func (*NetworkRequests) Name() string { return "NetworkRequests" }

func (g *NetworkRequests) AfterPass(ctx context.Context, pc *schemas.PassContext, loadData *schemas.LoadData, opts map[string]any) (any, error) {
	requests := make([]NetworkRequest, 0, len(loadData.NetworkRecords))
	for _, record := range loadData.NetworkRecords {
		requests = append(requests, NetworkRequest{
			URL:          record.URL,
			StatusCode:   record.StatusCode,
			Failed:       record.Failed,
			ResourceType: record.ResourceType,
		})
	}
	return requests, nil
}

var _ schemas.Gatherer = (*NetworkRequests)(nil)
