package scoring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRubricID names the built-in rubric used when a request names none.
const DefaultRubricID = "default"

type GraderKind string

const (
	GraderStatic GraderKind = "static"
	GraderLLM    GraderKind = "llm"
)

type CheckKind string

const (
	CheckRunsCleanly    CheckKind = "runs_cleanly"
	CheckStdoutEquals   CheckKind = "stdout_equals"
	CheckStdoutContains CheckKind = "stdout_contains"
	CheckStdoutMatches  CheckKind = "stdout_matches"
	CheckStderrEmpty    CheckKind = "stderr_empty"
	CheckMaxDurationMs  CheckKind = "max_duration_ms"
	CheckSourceContains CheckKind = "source_contains"
	CheckSourceExcludes CheckKind = "source_excludes"
)

// Check is one scored criterion of a rubric.
type Check struct {
	Kind        CheckKind `yaml:"kind" json:"kind"`
	Value       string    `yaml:"value,omitempty" json:"value,omitempty"`
	Points      float64   `yaml:"points" json:"points"`
	Description string    `yaml:"description" json:"description"`

	pattern *regexp.Regexp
	maxMs   int64
}

// Rubric is a named set of checks, optionally reviewed by a model.
type Rubric struct {
	ID           string     `yaml:"id" json:"id"`
	Title        string     `yaml:"title" json:"title"`
	Grader       GraderKind `yaml:"grader" json:"grader"`
	Instructions string     `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Checks       []Check    `yaml:"checks" json:"checks"`
}

// DefaultRubric rewards code that runs cleanly and prints something.
func DefaultRubric() Rubric {
	r := Rubric{
		ID:     DefaultRubricID,
		Title:  "Runs cleanly and produces output",
		Grader: GraderStatic,
		Checks: []Check{
			{Kind: CheckRunsCleanly, Points: 60, Description: "program runs to completion without errors"},
			{Kind: CheckStderrEmpty, Points: 20, Description: "no error output"},
			{Kind: CheckStdoutMatches, Value: `\S`, Points: 20, Description: "program produces output"},
		},
	}
	if err := r.compile(); err != nil {
		panic(err)
	}
	return r
}

// MaxPoints is the sum of all check points.
func (r Rubric) MaxPoints() float64 {
	var total float64
	for _, c := range r.Checks {
		total += c.Points
	}
	return total
}

func (r *Rubric) compile() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rubric id is required")
	}
	switch r.Grader {
	case "":
		r.Grader = GraderStatic
	case GraderStatic, GraderLLM:
	default:
		return fmt.Errorf("rubric %s: unknown grader %q", r.ID, r.Grader)
	}
	if len(r.Checks) == 0 && r.Grader == GraderStatic {
		return fmt.Errorf("rubric %s: static rubric needs at least one check", r.ID)
	}

	for i := range r.Checks {
		c := &r.Checks[i]
		if c.Points < 0 {
			return fmt.Errorf("rubric %s check %d: points cannot be negative", r.ID, i)
		}
		if c.Description == "" {
			c.Description = string(c.Kind)
		}
		switch c.Kind {
		case CheckRunsCleanly, CheckStderrEmpty:
		case CheckStdoutEquals, CheckStdoutContains, CheckSourceContains, CheckSourceExcludes:
			if c.Value == "" && c.Kind != CheckStdoutEquals {
				return fmt.Errorf("rubric %s check %d: %s needs a value", r.ID, i, c.Kind)
			}
		case CheckStdoutMatches:
			re, err := regexp.Compile(c.Value)
			if err != nil {
				return fmt.Errorf("rubric %s check %d: %w", r.ID, i, err)
			}
			c.pattern = re
		case CheckMaxDurationMs:
			ms, err := strconv.ParseInt(c.Value, 10, 64)
			if err != nil || ms <= 0 {
				return fmt.Errorf("rubric %s check %d: max_duration_ms needs a positive integer value", r.ID, i)
			}
			c.maxMs = ms
		default:
			return fmt.Errorf("rubric %s check %d: unknown kind %q", r.ID, i, c.Kind)
		}
	}
	return nil
}

// ParseRubric decodes and validates one YAML rubric document.
func ParseRubric(data []byte) (Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rubric{}, fmt.Errorf("parsing rubric: %w", err)
	}
	if err := r.compile(); err != nil {
		return Rubric{}, err
	}
	return r, nil
}

// Registry holds the rubrics available to evaluate mode. It is read-only
// once built.
type Registry struct {
	rubrics map[string]Rubric
}

// NewRegistry returns a registry containing the default rubric plus extra.
// A rubric with id "default" replaces the built-in one.
func NewRegistry(extra ...Rubric) *Registry {
	r := &Registry{rubrics: map[string]Rubric{DefaultRubricID: DefaultRubric()}}
	for _, rb := range extra {
		r.rubrics[rb.ID] = rb
	}
	return r
}

// LoadDir reads every *.yaml and *.yml file in dir. A missing directory
// yields the built-in rubric only.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rubrics dir: %w", err)
	}

	var rubrics []Rubric
	seen := map[string]string{}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		rb, err := ParseRubric(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, ok := seen[rb.ID]; ok {
			return nil, fmt.Errorf("rubric %s defined in both %s and %s", rb.ID, prev, path)
		}
		seen[rb.ID] = path
		rubrics = append(rubrics, rb)
	}
	return NewRegistry(rubrics...), nil
}

func (r *Registry) Get(id string) (Rubric, bool) {
	rb, ok := r.rubrics[id]
	return rb, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.rubrics[id]
	return ok
}

// List returns all rubrics sorted by id.
func (r *Registry) List() []Rubric {
	out := make([]Rubric, 0, len(r.rubrics))
	for _, rb := range r.rubrics {
		out = append(out, rb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
