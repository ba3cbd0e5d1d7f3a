package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/covey-ci/covey/coverage"
	"github.com/covey-ci/covey/store"
	"github.com/covey-ci/covey/workflow"
)

// ReportUploader sends a coverage report off to the aggregation
// service.
type ReportUploader interface {
	Upload(ctx context.Context, path, token string, meta coverage.UploadMeta) error
}

// ActionContext is everything a builtin action gets to work with. With
// holds the step's parameters after secret interpolation.
type ActionContext struct {
	Step   workflow.Step
	With   map[string]string
	Remote store.GitRemote
	Event  workflow.Event

	// Run is the run record being executed; actions can attach
	// results to it.
	Run *store.Run

	Exec     Executor
	Uploader ReportUploader
	Output   io.Writer
}

// Action is a builtin step implementation, selected by the step's
// "uses" reference.
type Action func(ctx context.Context, act *ActionContext) error

var actions = map[string]Action{
	"checkout":        checkoutAction,
	"setup-runtime":   setupRuntimeAction,
	"coverage-upload": coverageUploadAction,
}

// lookupAction resolves a "uses" reference like "checkout@v1" to the
// builtin implementing it. Version tags are accepted and ignored; there
// is only one version of each builtin.
func lookupAction(uses string) (Action, bool) {
	name := uses
	if idx := strings.Index(uses, "@"); idx >= 0 {
		name = uses[:idx]
	}

	action, ok := actions[name]
	return action, ok
}

func checkoutAction(ctx context.Context, act *ActionContext) error {
	fmt.Fprintf(act.Output, "checking out %v#%v\n", act.Remote.URL, act.Remote.Branch)

	return act.Exec.Checkout(ctx, act.Remote, act.Event.SHA, act.Output)
}

func setupRuntimeAction(ctx context.Context, act *ActionContext) error {
	runtime := act.With["runtime"]
	version := act.With["version"]

	if runtime == "" || version == "" {
		return errors.New("setup-runtime needs both runtime and version")
	}

	fmt.Fprintf(act.Output, "setting up %v %v\n", runtime, version)

	return act.Exec.Provision(ctx, runtime, version, act.Output)
}

func coverageUploadAction(ctx context.Context, act *ActionContext) error {
	file := act.With["file"]
	if file == "" {
		file = "coverage.xml"
	}

	token := act.With["token"]
	failCI := act.With["fail_ci_if_error"] == "true"

	path, err := act.Exec.ReportPath(file)
	if err != nil {
		return fmt.Errorf("coverage report %v not found: %w", file, err)
	}

	report, err := coverage.ParseFile(path)
	if err != nil {
		return fmt.Errorf("unable to parse coverage report: %w", err)
	}

	fmt.Fprint(act.Output, report.Summary())

	act.Run.Coverage = &store.Coverage{
		LineRate:   report.LineRate,
		ReportPath: file,
	}

	meta := coverage.UploadMeta{
		Remote: act.Remote.URL,
		Branch: act.Event.Branch,
		SHA:    act.Event.SHA,
	}

	err = act.Uploader.Upload(ctx, path, token, meta)
	if err != nil {
		// A failed upload only fails the run when the step asked
		// for that with fail_ci_if_error.
		if failCI {
			return fmt.Errorf("coverage upload failed: %w", err)
		}

		logger.WithField("error", err).Warn("coverage upload failed")
		fmt.Fprintf(act.Output, "warning: coverage upload failed: %v\n", err)

		return nil
	}

	act.Run.Coverage.Uploaded = true
	fmt.Fprintln(act.Output, "coverage report uploaded")

	return nil
}
