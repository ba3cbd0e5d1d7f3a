package workflow

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

var logger *log.Entry

var (
	// ErrNoTriggers is returned when a workflow declares no trigger
	// rules at all. A workflow like that could never run.
	ErrNoTriggers = errors.New("workflow has no triggers")
	// ErrNoJobs is returned when a workflow declares no jobs.
	ErrNoJobs = errors.New("workflow has no jobs")
)

func init() {
	logger = log.WithFields(log.Fields{
		"package": "workflow",
	})
}

// Workflow is a declarative pipeline definition. It names the trigger
// rules that cause it to run, the permissions its runs are granted, and
// the jobs to execute when it does.
type Workflow struct {
	Name        string            `yaml:"name"`
	On          Triggers          `yaml:"on"`
	Permissions map[string]string `yaml:"permissions"`
	Jobs        Jobs              `yaml:"jobs"`
}

// Jobs is an ordered list of jobs. It's unmarshaled from a YAML mapping
// so that jobs execute in the order they were declared, not in map
// iteration order.
type Jobs []Job

// Job is an ordered list of steps executed on a runner image.
type Job struct {
	ID     string `yaml:"-"`
	RunsOn string `yaml:"runs-on"`
	Steps  []Step `yaml:"steps"`
}

// Step is a single instruction in a job. Exactly one of Uses and Run
// must be set: Uses names a builtin action, Run is a shell command.
type Step struct {
	Name            string            `yaml:"name"`
	Uses            string            `yaml:"uses"`
	Run             string            `yaml:"run"`
	With            map[string]string `yaml:"with"`
	Env             map[string]string `yaml:"env"`
	ContinueOnError bool              `yaml:"continue-on-error"`
}

// UnmarshalYAML decodes the jobs mapping while preserving the order the
// jobs were written in.
func (jobs *Jobs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return errors.New("jobs must be a mapping")
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		var job Job
		if err := value.Content[i+1].Decode(&job); err != nil {
			return err
		}

		job.ID = value.Content[i].Value
		*jobs = append(*jobs, job)
	}

	return nil
}

// Parse decodes and validates a workflow definition.
func Parse(buf []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(buf, &wf); err != nil {
		return nil, err
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Load reads and parses the workflow definition at path.
func Load(path string) (*Workflow, error) {
	logger := logger.WithField("path", path)
	logger.Debug("loading workflow file")

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(buf)
}

// Validate checks the structural invariants of the workflow: at least
// one trigger, at least one job, every job has steps and every step is
// exactly one of "uses" or "run".
func (wf *Workflow) Validate() error {
	if wf.On.Push == nil && wf.On.PullRequest == nil {
		return ErrNoTriggers
	}

	if len(wf.Jobs) == 0 {
		return ErrNoJobs
	}

	for scope, level := range wf.Permissions {
		switch level {
		case "read", "write", "none":
		default:
			return fmt.Errorf("invalid permission level %q for scope %q", level, scope)
		}
	}

	for _, job := range wf.Jobs {
		if len(job.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", job.ID)
		}

		for i, step := range job.Steps {
			if step.Uses == "" && step.Run == "" {
				return fmt.Errorf("job %q step %v has neither uses nor run", job.ID, i)
			}

			if step.Uses != "" && step.Run != "" {
				return fmt.Errorf("job %q step %v has both uses and run", job.ID, i)
			}
		}
	}

	return nil
}

// DisplayName returns the name a step should be reported under. Steps
// without an explicit name fall back to the action or command.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}

	if s.Uses != "" {
		return s.Uses
	}

	return s.Run
}
