package runner

import (
	"bytes"
	"context"
	"fmt"

	"github.com/covey-ci/covey/secret"
	"github.com/covey-ci/covey/store"
	"github.com/covey-ci/covey/workflow"
)

// Request is the queue message asking for a workflow run.
type Request struct {
	GitRemote    store.GitRemote `json:"git_remote"`
	WorkflowID   int             `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	WorkflowPath string          `json:"workflow_path"`
	Event        workflow.Event  `json:"event"`
}

// runnerStore is the subset of the store the runner needs for run
// bookkeeping.
type runnerStore interface {
	CreateRun(*store.Run) error
	UpdateRun(*store.Run) error
	CreateStep(*store.Step) error
	UpdateStep(*store.Step) error
	UpdateWorkflow(*store.Workflow) error
}

// Notifier reports a run's state back to wherever the commit came from.
type Notifier interface {
	Notify(ctx context.Context, remote store.GitRemote, sha, state, desc string) error
}

// Runner executes workflow runs. Steps run strictly in declaration
// order, one at a time; there is no retrying and no parallelism.
type Runner struct {
	st       runnerStore
	exec     Executor
	secrets  secret.Provider
	uploader ReportUploader
	notifier Notifier // may be nil
}

// New returns a Runner. notifier may be nil if commit statuses aren't
// wanted.
func New(st runnerStore, exec Executor, secrets secret.Provider, uploader ReportUploader, notifier Notifier) *Runner {
	return &Runner{
		st:       st,
		exec:     exec,
		secrets:  secrets,
		uploader: uploader,
		notifier: notifier,
	}
}

// Run executes the workflow for the request and records the whole thing
// in the store. The returned run reflects the final state. The error is
// only for infrastructure trouble: a run that executed and failed is a
// successful call with run.Failed() == true.
func (r *Runner) Run(ctx context.Context, req Request, wf *workflow.Workflow) (store.Run, error) {
	logger := logger.WithField("workflow", req.WorkflowName)

	run := &store.Run{
		WorkflowID: req.WorkflowID,
		Event:      req.Event,
	}
	run.SetStart()

	if err := r.st.CreateRun(run); err != nil {
		logger.WithField("error", err).Error("unable to create run")
		return *run, err
	}

	logger = logger.WithField("count", run.Count)
	logger.Info("starting run")

	r.notify(ctx, req, "pending", "run started")

	// One masker for the whole run: a secret resolved by an early
	// step stays redacted in every later step's log.
	mask := &secret.Masker{}

	success := true

jobs:
	for _, job := range wf.Jobs {
		logger := logger.WithField("job", job.ID)
		logger.Debug("starting job")

		for _, step := range job.Steps {
			strec := &store.Step{
				Name:       step.DisplayName(),
				WorkflowID: req.WorkflowID,
				RunCount:   run.Count,
			}
			strec.SetStart()

			if err := r.st.CreateStep(strec); err != nil {
				logger.WithField("error", err).Error("unable to create step")
				success = false
				break jobs
			}

			err := r.runStep(ctx, req, run, job, step, strec, mask)

			strec.SetEnd()
			strec.MarkSuccess(err == nil)

			if uerr := r.st.UpdateStep(strec); uerr != nil {
				logger.WithField("error", uerr).Error("unable to update step")
			}

			if err != nil {
				logger.WithField("error", err).
					WithField("step", strec.Name).
					Info("step failed")

				if step.ContinueOnError {
					continue
				}

				success = false
				break jobs
			}
		}
	}

	run.SetEnd()
	run.MarkSuccess(success)

	if err := r.st.UpdateRun(run); err != nil {
		logger.WithField("error", err).Error("unable to update run")
		return *run, err
	}

	wfrec := &store.Workflow{ID: req.WorkflowID}
	wfrec.MarkSuccess(success)
	if err := r.st.UpdateWorkflow(wfrec); err != nil {
		logger.WithField("error", err).Error("unable to update workflow status")
	}

	if success {
		r.notify(ctx, req, "success", "run passed")
	} else {
		r.notify(ctx, req, "failure", "run failed")
	}

	logger.WithField("success", success).Info("run finished")

	return *run, nil
}

// runStep executes a single step and fills in the step record's log.
func (r *Runner) runStep(ctx context.Context, req Request, run *store.Run, job workflow.Job, step workflow.Step, strec *store.Step, mask *secret.Masker) error {
	var buf bytes.Buffer
	out := mask.Wrap(&buf)
	defer func() {
		out.Close()
		strec.Log = buf.String()
	}()

	with, err := secret.InterpolateMap(step.With, r.secrets, mask)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return err
	}

	env, err := secret.InterpolateMap(step.Env, r.secrets, mask)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return err
	}

	if step.Uses != "" {
		action, ok := lookupAction(step.Uses)
		if !ok {
			err := fmt.Errorf("unknown action %q", step.Uses)
			fmt.Fprintf(out, "error: %v\n", err)
			return err
		}

		return action(ctx, &ActionContext{
			Step:     step,
			With:     with,
			Remote:   req.GitRemote,
			Event:    req.Event,
			Run:      run,
			Exec:     r.exec,
			Uploader: r.uploader,
			Output:   out,
		})
	}

	return r.exec.RunCommand(ctx, CommandSpec{
		Command: step.Run,
		Env:     envSlice(env),
		Image:   job.RunsOn,
		Output:  out,
	})
}

func (r *Runner) notify(ctx context.Context, req Request, state, desc string) {
	if r.notifier == nil || req.Event.SHA == "" {
		return
	}

	err := r.notifier.Notify(ctx, req.GitRemote, req.Event.SHA, state, desc)
	if err != nil {
		// Status reporting is best-effort.
		logger.WithField("error", err).Warn("unable to send commit status")
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%v=%v", k, v))
	}

	return out
}
