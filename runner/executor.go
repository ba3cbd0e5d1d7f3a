package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/covey-ci/covey/store"

	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "runner",
	})
}

// CommandSpec describes a single shell command to run in the job
// workspace.
type CommandSpec struct {
	Command string
	Env     []string

	// Image overrides the executor's current container image. The
	// local executor ignores it.
	Image string

	Output io.Writer
}

// Executor runs the individual pieces of a workflow step. The runner
// never touches the workspace directly so execution backends can be
// swapped out: local for dev and tests, Docker for real isolation.
type Executor interface {
	// Checkout populates the workspace with the repository at sha.
	// An empty sha leaves the remote's branch head checked out.
	Checkout(ctx context.Context, remote store.GitRemote, sha string, out io.Writer) error

	// Provision makes the pinned runtime version available to later
	// commands. It fails when that version can't be provided.
	Provision(ctx context.Context, runtime, version string, out io.Writer) error

	// RunCommand runs a shell command in the workspace.
	RunCommand(ctx context.Context, spec CommandSpec) error

	// ReportPath resolves a workspace-relative artifact path to a
	// file readable by the runner process.
	ReportPath(rel string) (string, error)
}

// LocalExecutor runs everything directly on the host with sh -c,
// inside a throwaway workspace directory.
type LocalExecutor struct {
	Workspace string
}

// NewLocalExecutor returns a LocalExecutor rooted at workspace. The
// directory is created if it doesn't exist yet.
func NewLocalExecutor(workspace string) (*LocalExecutor, error) {
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, err
	}

	return &LocalExecutor{Workspace: workspace}, nil
}

// Checkout clones the remote into the workspace and detaches at sha
// when one is given.
func (e *LocalExecutor) Checkout(ctx context.Context, remote store.GitRemote, sha string, out io.Writer) error {
	cmd := fmt.Sprintf("git clone --branch %q %q .", remote.Branch, remote.URL)
	if sha != "" {
		cmd = fmt.Sprintf("%v && git checkout --detach %q", cmd, sha)
	}

	return e.RunCommand(ctx, CommandSpec{
		Command: cmd,
		Output:  out,
	})
}

// Provision checks that the pinned runtime is on the PATH. Locally
// there's nothing to install; a missing interpreter is fatal just like
// a missing runner image would be.
func (e *LocalExecutor) Provision(ctx context.Context, runtime, version string, out io.Writer) error {
	return e.RunCommand(ctx, CommandSpec{
		Command: fmt.Sprintf("%v%v --version", runtime, version),
		Output:  out,
	})
}

// RunCommand runs the command with sh -c in the workspace.
func (e *LocalExecutor) RunCommand(ctx context.Context, spec CommandSpec) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	cmd.Dir = e.Workspace
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output

	return cmd.Run()
}

// ReportPath resolves rel inside the workspace, checking the file is
// actually there.
func (e *LocalExecutor) ReportPath(rel string) (string, error) {
	path := filepath.Join(e.Workspace, rel)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}

	return path, nil
}
