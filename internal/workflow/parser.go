package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/workflowcore/engine/internal/workflow/werr"
)

// ParseResult is the output of Parse: the decoded workflow tree plus the
// raw yaml.Node root, kept around so Locate can resolve precise source
// positions for diagnostics the decoded struct fields don't carry.
type ParseResult struct {
	Workflow *Workflow
	Root     *yaml.Node
	File     string
}

// rawWorkflow mirrors the on-disk shape; jobs.main.steps is nested one level
// deeper than Workflow.Steps, so it is decoded separately and flattened.
type rawWorkflow struct {
	SchemaVersion string               `yaml:"schema_version"`
	Name          string               `yaml:"name"`
	Inputs        map[string]InputDecl `yaml:"inputs"`
	Env           map[string]string    `yaml:"env"`
	Jobs          map[string]rawJob    `yaml:"jobs"`
	Finally       []Step               `yaml:"finally"`
	LLM           map[string]any       `yaml:"llm"`
}

type rawJob struct {
	Steps []Step `yaml:"steps"`
}

// UnmarshalYAML captures the step's own source location before decoding its
// fields, following the round-trip-parser contract.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	type alias Step
	var aux alias
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*s = Step(aux)
	s.Location = werr.Location{Line: node.Line, Column: node.Column}
	return nil
}

// UnmarshalYAML captures the input declaration's source location.
func (d *InputDecl) UnmarshalYAML(node *yaml.Node) error {
	type alias InputDecl
	var aux alias
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*d = InputDecl(aux)
	d.Location = werr.Location{Line: node.Line, Column: node.Column}
	return nil
}

// Parse decodes YAML source into a Workflow, preserving per-node source
// locations. file is recorded on every location so
// downstream errors can format "FILE:LINE:COL: message".
func Parse(source []byte, file string) (*ParseResult, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(source, &root); err != nil {
		return nil, werr.Wrap(werr.KindValidation, "failed to parse YAML", err).WithLocation(werr.Location{File: file})
	}
	if len(root.Content) == 0 {
		return nil, werr.New(werr.KindValidation, "empty document").WithLocation(werr.Location{File: file})
	}

	docNode := root.Content[0]

	var raw rawWorkflow
	if err := docNode.Decode(&raw); err != nil {
		loc := werr.Location{File: file, Line: docNode.Line, Column: docNode.Column}
		return nil, werr.Wrap(werr.KindValidation, fmt.Sprintf("failed to decode workflow: %v", err), err).WithLocation(loc)
	}

	wf := &Workflow{
		SchemaVersion: raw.SchemaVersion,
		Name:          raw.Name,
		Inputs:        raw.Inputs,
		Env:           raw.Env,
		Finally:       raw.Finally,
		LLM:           raw.LLM,
		Location:      werr.Location{File: file, Line: docNode.Line, Column: docNode.Column},
	}
	if job, ok := raw.Jobs["main"]; ok {
		wf.Steps = job.Steps
	}

	generateStepIDs(wf)
	attachFile(wf, file)

	return &ParseResult{Workflow: wf, Root: &root, File: file}, nil
}

// slugInvalid matches any run of characters a step id may not contain, for
// turning a step's name into an id-shaped slug.
var slugInvalid = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// generateStepIDs assigns a deterministic id to every step (main and
// finally) that omitted one, so validation and compilation never see a
// blank id: name_index when the step has a name, step_index/cleanup_index
// otherwise.
func generateStepIDs(wf *Workflow) {
	for i := range wf.Steps {
		wf.Steps[i].ID = ensureStepID(wf.Steps[i], i, "step")
	}
	for i := range wf.Finally {
		wf.Finally[i].ID = ensureStepID(wf.Finally[i], i, "cleanup")
	}
}

func ensureStepID(step Step, index int, fallbackPrefix string) string {
	if step.ID != "" {
		return step.ID
	}
	if step.Name != "" {
		slug := strings.ToLower(strings.Trim(slugInvalid.ReplaceAllString(step.Name, "_"), "_"))
		if slug != "" {
			if c := slug[0]; !(c >= 'a' && c <= 'z') {
				slug = "s" + slug
			}
			return fmt.Sprintf("%s_%d", slug, index)
		}
	}
	return fmt.Sprintf("%s_%d", fallbackPrefix, index)
}

// ParseFile reads and parses a workflow definition from disk.
func ParseFile(path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data, path)
}

// LoadDir batch-parses every *.workflow.yaml/*.workflow.yml in dir using a
// glob-by-suffix convention, skipping JSON/DB-identifier concerns that
// belong to the host, not the core.
func LoadDir(dir string) ([]*ParseResult, []error) {
	var results []*ParseResult
	var errs []error

	for _, pattern := range []string{"*.workflow.yaml", "*.workflow.yml"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, path := range matches {
			res, err := ParseFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, res)
		}
	}
	return results, errs
}

// attachFile recursively stamps file onto every Location already captured
// during decode.
func attachFile(wf *Workflow, file string) {
	wf.Location.File = file
	for k, in := range wf.Inputs {
		in.Location.File = file
		wf.Inputs[k] = in
	}
	for i := range wf.Steps {
		wf.Steps[i].Location.File = file
	}
	for i := range wf.Finally {
		wf.Finally[i].Location.File = file
	}
}

// Locate resolves a slash-separated path (e.g. "jobs/main/steps/0/id") to a
// source Location by walking the raw yaml.Node tree, for diagnostics that
// need to point at a location the decoded struct didn't capture directly.
func Locate(root *yaml.Node, path string) (werr.Location, bool) {
	if root == nil {
		return werr.Location{}, false
	}
	node := root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if path == "" || path == "/" {
		return werr.Location{Line: node.Line, Column: node.Column}, true
	}

	segments := splitPath(path)
	for _, seg := range segments {
		switch node.Kind {
		case yaml.MappingNode:
			found := false
			for i := 0; i+1 < len(node.Content); i += 2 {
				key := node.Content[i]
				if key.Value == seg {
					node = node.Content[i+1]
					found = true
					break
				}
			}
			if !found {
				return werr.Location{}, false
			}
		case yaml.SequenceNode:
			idx, ok := atoiSafe(seg)
			if !ok || idx < 0 || idx >= len(node.Content) {
				return werr.Location{}, false
			}
			node = node.Content[idx]
		default:
			return werr.Location{}, false
		}
	}
	return werr.Location{Line: node.Line, Column: node.Column}, true
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

func atoiSafe(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
