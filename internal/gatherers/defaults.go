// File: internal/gatherers/defaults.go
package gatherers

import (
	"github.com/pagelens/pagelens-cli/api/schemas"
)

// DefaultPassConfigs returns the standard pass list: a general data pass,
// and (unless skipped) a traced, throttled performance pass.
func DefaultPassConfigs(skipPerfPass bool) []schemas.PassConfig {
	passes := []schemas.PassConfig{
		{
			PassName: "defaultPass",
			Gatherers: []schemas.GathererBinding{
				{Instance: NewViewportMeta()},
				{Instance: NewScriptElements()},
				{Instance: NewNetworkRequests()},
			},
		},
	}
	if !skipPerfPass {
		passes = append(passes, schemas.PassConfig{
			PassName:      "perfPass",
			RecordTrace:   true,
			UseThrottling: true,
			Gatherers: []schemas.GathererBinding{
				{Instance: NewNetworkRequests()},
			},
		})
	}
	return passes
}
