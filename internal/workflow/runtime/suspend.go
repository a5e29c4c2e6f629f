package runtime

import (
	"context"

	"github.com/workflowcore/engine/internal/workflow"
)

// Resume continues a run that previously stopped with a SuspensionError. It
// injects resumeData under state["__resume_data"][nodeID] and re-enters the
// graph at nodeID, so the node's action can read in.State["__resume_data"]
// and return a non-suspended outcome this time. The caller is responsible
// for persisting state/runID/nodeID across the suspension (state is not
// retained by the Runtime itself).
func (r *Runtime) Resume(ctx context.Context, state workflow.State, runID, nodeID string, resumeData any) (workflow.State, error) {
	existing, _ := state["__resume_data"].(map[string]any)
	merged := make(map[string]any, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged[nodeID] = resumeData
	state = state.With("__resume_data", merged)

	ctx = r.Telemetry.StartRunSpan(ctx, runID, r.Name)
	return r.execute(ctx, runID, state, nodeID)
}
