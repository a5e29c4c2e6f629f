package main

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/workflowcore/engine/internal/workflow"
)

// echoAction is the `uses: echo` demo action: it copies its `with:` map
// straight into outputs, useful for exercising transitions/loops without a
// real side effect.
type echoAction struct{}

func (echoAction) Execute(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
	return workflow.ActionOutput{Values: in.With}
}

// shellAction backs `run:` steps: the runtime has already resolved every
// ${{ … }} expression in in.Run (including any `| shell_quote` stages) by
// the time it reaches here, so this action just hands the resolved line to
// a shell and captures stdout.
type shellAction struct{}

func (shellAction) Execute(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
	cmd := exec.CommandContext(ctx, "sh", "-c", in.Run)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return workflow.ActionOutput{
			Values: map[string]any{"stdout": stdout.String(), "stderr": stderr.String()},
			Err:    err,
		}
	}
	return workflow.ActionOutput{Values: map[string]any{"stdout": stdout.String(), "stderr": stderr.String()}}
}
