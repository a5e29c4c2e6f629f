package workflow

import "github.com/workflowcore/engine/internal/workflow/werr"

// Workflow is the parsed form of the YAML workflow definition.
type Workflow struct {
	SchemaVersion string               `yaml:"schema_version"`
	Name          string               `yaml:"name"`
	Inputs        map[string]InputDecl `yaml:"inputs"`
	Env           map[string]string    `yaml:"env"`
	Steps         []Step               `yaml:"-"` // populated from jobs.main.steps
	Finally       []Step               `yaml:"finally"`
	LLM           map[string]any       `yaml:"llm"`

	Location werr.Location `yaml:"-"`
}

// InputDecl declares one user-supplied input parameter.
type InputDecl struct {
	Type     string `yaml:"type"`
	Default  any    `yaml:"default"`
	Required bool   `yaml:"required"`
	Enum     []any  `yaml:"enum"`
	Pattern  string `yaml:"pattern"`

	Location werr.Location `yaml:"-"`
}

// RetryPolicy configures step-level retry/backoff.
type RetryPolicy struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Base        string   `yaml:"base"`       // duration string, e.g. "200ms"
	Multiplier  float64  `yaml:"multiplier"` // exponential backoff factor
	MaxDelay    string   `yaml:"max_delay"`  // duration string
	Jitter      bool     `yaml:"jitter"`
	RetryOn     []string `yaml:"retry_on"`
}

// Step is a single unit of work in a workflow definition.
type Step struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	Run  string         `yaml:"run"`
	Uses string         `yaml:"uses"`
	With map[string]any `yaml:"with"`

	If    string   `yaml:"if"`
	Needs []string `yaml:"needs"`

	Loop             string `yaml:"loop"`
	BreakIf          string `yaml:"break_if"`
	MaxIterations    int    `yaml:"max_iterations"`
	MaxResults       int    `yaml:"max_results"`
	MaxErrors        int    `yaml:"max_errors"`
	ContinueOnError  bool   `yaml:"continue_on_error"`
	AggregateResults bool   `yaml:"aggregate_results"`
	ResultStorage    string `yaml:"result_storage"` // memory|file|none

	OnFailure string       `yaml:"on_failure"`
	Retry     *RetryPolicy `yaml:"retry"`
	Timeout   string       `yaml:"timeout"`

	Guardrails  []string `yaml:"guardrails"`
	CaptureMode string   `yaml:"capture_mode"` // state|file

	Location werr.Location `yaml:"-"`
}

// StableID returns the identifier a step is addressed by. The parser fills
// this in at parse time (name-slug-plus-index, or position alone) for any
// step whose author omitted `id`, so by the time a Step reaches validation
// or compilation, ID is always populated; StableID just reads it back.
func (s Step) StableID() string {
	return s.ID
}

// IsLoop reports whether this step compiles to the five-node loop cycle.
func (s Step) IsLoop() bool { return s.Loop != "" }

// IsConditional reports whether this step compiles to a condition+body pair.
func (s Step) IsConditional() bool { return s.If != "" }

// LoopStorageMode returns the effective result-storage mode, defaulting to
// memory when unset.
func (s Step) LoopStorageMode() string {
	if s.ResultStorage == "" {
		return "memory"
	}
	return s.ResultStorage
}

// EffectiveMaxIterations returns the configured bound or the default.
func (s Step) EffectiveMaxIterations() int {
	if s.MaxIterations > 0 {
		return s.MaxIterations
	}
	return DefaultMaxIterations
}

// EffectiveMaxResults returns the configured bound or the default.
func (s Step) EffectiveMaxResults() int {
	if s.MaxResults > 0 {
		return s.MaxResults
	}
	return DefaultMaxResults
}

// EffectiveMaxErrors returns the configured bound or the default.
func (s Step) EffectiveMaxErrors() int {
	if s.MaxErrors > 0 {
		return s.MaxErrors
	}
	return DefaultMaxErrors
}

// Default resource bounds.
const (
	DefaultMaxIterations = 10_000
	DefaultMaxResults    = 100
	DefaultMaxErrors     = 50
	HardMaxIterations    = 100_000
)
