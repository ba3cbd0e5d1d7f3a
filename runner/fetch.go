package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/covey-ci/covey/store"
	"github.com/covey-ci/covey/workflow"
)

// FetchDefinition retrieves the workflow file from the remote without
// touching the job workspace. This is the out-of-band fetch that breaks
// the chicken-and-egg between "the workflow says to check out" and
// "the workflow lives in the checkout": a shallow clone into a temp
// directory that's thrown away as soon as the file is parsed.
func FetchDefinition(ctx context.Context, remote store.GitRemote, path string) (*workflow.Workflow, error) {
	logger := logger.WithField("remote", remote.URL)
	logger.Debug("fetching workflow definition")

	dir, err := os.MkdirTemp("", "covey-def-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, "git", "clone",
		"--depth=1", "--branch", remote.Branch, remote.URL, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.WithField("error", err).
			Debugf("git clone failed: %s", out)
		return nil, err
	}

	return workflow.Load(filepath.Join(dir, path))
}
