// File: internal/gather/collect.go
package gather

import (
	"fmt"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// GathererResults maps a gatherer name to its ordered phase results for a
// single pass.
type GathererResults map[string][]schemas.PhaseResult

func (g GathererResults) add(name string, result schemas.PhaseResult) {
	g[name] = append(g[name], result)
}

// MissingArtifactError is the one fatal gatherer failure: no phase of the
// gatherer ever produced a value or an error.
type MissingArtifactError struct {
	Gatherer string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("gatherer %q did not produce an artifact in any phase", e.Gatherer)
}

// CollectArtifacts reduces each gatherer's phase results to one final
// artifact: the last non-absent result wins, and a captured hook error
// becomes the artifact value itself so downstream consumers see a faulty
// gatherer rather than an aborted run.
func CollectArtifacts(bindings []schemas.GathererBinding, results GathererResults) (map[string]any, error) {
	artifacts := make(map[string]any, len(bindings))
	for _, binding := range bindings {
		name := binding.Instance.Name()

		var final any
		found := false
		for _, pr := range results[name] {
			if pr.Err != nil {
				final = pr.Err
				found = true
				continue
			}
			if pr.Value != nil {
				final = pr.Value
				found = true
			}
		}
		if !found {
			return nil, &MissingArtifactError{Gatherer: name}
		}
		artifacts[name] = final
	}
	return artifacts, nil
}
