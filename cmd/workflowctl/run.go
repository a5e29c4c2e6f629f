package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/workflowcore/engine/internal/workflow"
	"github.com/workflowcore/engine/internal/workflow/config"
	"github.com/workflowcore/engine/internal/workflow/eval"
	"github.com/workflowcore/engine/internal/workflow/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Run a workflow",
	Long:  "Execute a workflow YAML file against the demo action registry, rendering the live event stream in a terminal view.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("input", "", "Input JSON for the workflow")
	runCmd.Flags().StringToString("env", nil, "Environment variables exposed to the workflow (KEY=VALUE)")
	runCmd.Flags().Bool("telemetry", false, "Emit OpenTelemetry spans/metrics for this run")
	runCmd.Flags().Bool("quiet", false, "Skip the live view and print the final result only")
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	inputJSON, _ := cmd.Flags().GetString("input")
	envFlag, _ := cmd.Flags().GetStringToString("env")
	withTelemetry, _ := cmd.Flags().GetBool("telemetry")
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	parsed, err := workflow.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	result := workflow.Validate(parsed.Workflow, false)
	if !result.Valid {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", e.Code, e.Path, e.Message)
		}
		return fmt.Errorf("workflow failed validation")
	}

	graph, err := workflow.Compile(parsed.Workflow)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", path, err)
	}

	var inputs map[string]any
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &inputs); err != nil {
			return fmt.Errorf("invalid --input JSON: %w", err)
		}
	}
	inputs, err = workflow.CoerceInputs(parsed.Workflow.Inputs, inputs)
	if err != nil {
		return fmt.Errorf("input validation: %w", err)
	}

	fs := afero.NewOsFs()
	evaluator := eval.New(fs, cfg.WorkspaceRoot)

	registry := workflow.NewRegistry(shellAction{})
	registry.Register("echo", echoAction{})

	observer := runtime.NewChannelObserver(128)
	rt := runtime.New(graph, registry, evaluator, observer)
	rt.Name = parsed.Workflow.Name
	if withTelemetry {
		shutdown, err := runtime.InitTracing()
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer shutdown(context.Background())

		tel, err := runtime.NewTelemetry()
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		rt.Telemetry = tel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resultCh := make(chan runOutcome, 1)
	go func() {
		state, err := rt.Run(ctx, runtime.RunOptions{Inputs: inputs, Env: envFlag})
		observer.Close()
		resultCh <- runOutcome{state: state, err: err}
	}()

	if quiet {
		for range observer.Events() {
		}
		outcome := <-resultCh
		return printOutcome(outcome)
	}

	m := newRunModel(observer.Events(), resultCh, parsed.Workflow.Name)
	program := tea.NewProgram(m)
	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("rendering live view: %w", err)
	}

	fm := final.(runModel)
	return printOutcome(fm.outcome)
}

func printOutcome(o runOutcome) error {
	if o.err != nil {
		if suspend, ok := o.err.(*runtime.SuspensionError); ok {
			fmt.Printf("\nworkflow suspended at step %q: %s\n", suspend.Request.StepID, suspend.Request.Prompt)
			return nil
		}
		fmt.Printf("\nworkflow failed: %v\n", o.err)
		return o.err
	}
	fmt.Printf("\nworkflow completed\n")
	if steps := o.state.Steps(); len(steps) > 0 {
		pretty, _ := json.MarshalIndent(steps, "", "  ")
		fmt.Println(string(pretty))
	}
	return nil
}

type runOutcome struct {
	state workflow.State
	err   error
}

// runModel is the bubbletea live view for `workflowctl run`: a scrolling
// table of the event stream plus a status line, in the spirit of the
// teacher's charmbracelet-based terminal views.
type runModel struct {
	name     string
	events   <-chan runtime.Event
	resultCh <-chan runOutcome
	table    table.Model
	rows     []table.Row
	started  time.Time
	done     bool
	outcome  runOutcome
}

type eventMsg runtime.Event
type eventsClosedMsg struct{}
type doneMsg runOutcome

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Padding(1, 1)
)

func newRunModel(events <-chan runtime.Event, resultCh <-chan runOutcome, name string) runModel {
	columns := []table.Column{
		{Title: "Time", Width: 12},
		{Title: "Event", Width: 14},
		{Title: "Node", Width: 20},
		{Title: "Step", Width: 20},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(nil),
		table.WithFocused(false),
		table.WithHeight(15),
	)
	return runModel{name: name, events: events, resultCh: resultCh, table: t, started: time.Now()}
}

func waitForEvent(events <-chan runtime.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func waitForDone(resultCh <-chan runOutcome) tea.Cmd {
	return func() tea.Msg {
		return doneMsg(<-resultCh)
	}
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), waitForDone(m.resultCh))
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
	case eventMsg:
		ev := runtime.Event(msg)
		row := table.Row{
			ev.Timestamp.Format("15:04:05.000"),
			string(ev.Type),
			ev.NodeID,
			ev.StepID,
		}
		m.rows = append(m.rows, row)
		m.table.SetRows(m.rows)
		m.table.GotoBottom()
		return m, waitForEvent(m.events)
	case eventsClosedMsg:
		return m, nil
	case doneMsg:
		m.done = true
		m.outcome = runOutcome(msg)
		return m, tea.Quit
	}
	return m, nil
}

func (m runModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("workflow: %s", m.name)))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	status := fmt.Sprintf("elapsed %s — q to quit", time.Since(m.started).Round(10*time.Millisecond))
	if m.done {
		status = "finished"
	}
	b.WriteString(statusStyle.Render(status))
	return b.String()
}
