package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/covey-ci/covey/store"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"
)

const (
	gitimg  = "alpine/git"
	workdir = "/workspace"
)

// DockerExecutor runs every step in its own container, all sharing a
// named workspace volume. The volume is created per executor and
// removed with it, so job runs can't see each other's checkouts.
type DockerExecutor struct {
	client *docker.Client

	// image is the current default step image. Provision swaps it
	// for the pinned runtime image.
	image  string
	volume string
}

// NewDockerExecutor connects to the Docker daemon at endpoint (or the
// environment's daemon when endpoint is empty) and creates the
// workspace volume.
func NewDockerExecutor(endpoint, image string) (*DockerExecutor, error) {
	var client *docker.Client
	var err error
	if endpoint == "" {
		client, err = docker.NewClientFromEnv()
	} else {
		client, err = docker.NewClient(endpoint)
	}
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("covey.%v", uuid.New())

	vol, err := client.CreateVolume(docker.CreateVolumeOptions{
		Name: name,
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("vol", vol.Name).Debug("created workspace volume")

	return &DockerExecutor{
		client: client,
		image:  image,
		volume: vol.Name,
	}, nil
}

// Checkout populates the workspace volume with a clone of the remote.
func (e *DockerExecutor) Checkout(ctx context.Context, remote store.GitRemote, sha string, out io.Writer) error {
	logger := logger.WithField("remote", remote)
	logger.Debug("populating workspace volume")

	if err := e.ensureImage(gitimg); err != nil {
		return err
	}

	cmd := []string{"clone", "--branch", remote.Branch, remote.URL, "."}
	if err := e.runContainer(ctx, gitimg, cmd, nil, out); err != nil {
		return err
	}

	if sha == "" {
		return nil
	}

	return e.runContainer(ctx, gitimg, []string{"checkout", "--detach", sha}, nil, out)
}

// Provision pulls the image for the pinned runtime version and makes it
// the image later run commands execute in.
func (e *DockerExecutor) Provision(ctx context.Context, runtime, version string, out io.Writer) error {
	image := fmt.Sprintf("%v:%v", runtime, version)

	logger := logger.WithField("image", image)
	logger.Debug("provisioning runtime image")

	if err := e.ensureImage(image); err != nil {
		return err
	}

	e.image = image
	fmt.Fprintf(out, "runtime image %v ready\n", image)

	return nil
}

// RunCommand runs the command with sh -c in a fresh container mounted
// on the workspace volume.
func (e *DockerExecutor) RunCommand(ctx context.Context, spec CommandSpec) error {
	image := spec.Image
	if image == "" {
		image = e.image
	}

	if err := e.ensureImage(image); err != nil {
		return err
	}

	return e.runContainer(ctx, image, []string{"sh", "-c", spec.Command}, spec.Env, spec.Output)
}

// ReportPath copies the workspace file out of the volume into a temp
// file the runner process can read. The file comes out over the
// archive API rather than a shell command, so container output can't
// bleed into the recovered bytes.
func (e *DockerExecutor) ReportPath(rel string) (string, error) {
	if err := e.ensureImage(gitimg); err != nil {
		return "", err
	}

	container, err := e.client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image:      gitimg,
			Cmd:        []string{"true"},
			WorkingDir: workdir,
		},
		HostConfig: &docker.HostConfig{
			Binds: []string{e.volume + ":" + workdir},
		},
	})
	if err != nil {
		return "", err
	}
	defer e.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:    container.ID,
		Force: true,
	})

	var buf bytes.Buffer
	err = e.client.DownloadFromContainer(container.ID, docker.DownloadFromContainerOptions{
		OutputStream: &buf,
		Path:         workdir + "/" + rel,
	})
	if err != nil {
		return "", err
	}

	return writeArchivedFile(&buf)
}

// writeArchivedFile extracts the first regular file from the tar
// archive the download API produces into a temp file.
func writeArchivedFile(r io.Reader) (string, error) {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", errors.New("archive contains no regular file")
		}
		if err != nil {
			return "", err
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		f, err := os.CreateTemp("", "covey-report-")
		if err != nil {
			return "", err
		}
		defer f.Close()

		if _, err := io.Copy(f, tr); err != nil {
			return "", err
		}

		return f.Name(), nil
	}
}

// Close removes the workspace volume.
func (e *DockerExecutor) Close() error {
	return e.client.RemoveVolume(e.volume)
}

func (e *DockerExecutor) ensureImage(image string) error {
	_, err := e.client.InspectImage(image)
	if err == nil {
		return nil
	}

	logger := logger.WithField("image", image)
	logger.Debug("pulling image")

	return e.client.PullImage(docker.PullImageOptions{
		Repository: image,
	}, docker.AuthConfiguration{})
}

func (e *DockerExecutor) runContainer(ctx context.Context, image string, cmd []string, env []string, out io.Writer) error {
	container, err := e.client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image:      image,
			Cmd:        cmd,
			Env:        env,
			WorkingDir: workdir,
		},
		HostConfig: &docker.HostConfig{
			Binds: []string{e.volume + ":" + workdir},
		},
	})
	if err != nil {
		return err
	}
	defer e.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:    container.ID,
		Force: true,
	})

	if err := e.client.StartContainer(container.ID, nil); err != nil {
		return err
	}

	status, err := e.client.WaitContainer(container.ID)
	if err != nil {
		return err
	}

	logerr := e.client.Logs(docker.LogsOptions{
		Container:    container.ID,
		OutputStream: out,
		ErrorStream:  out,
		Stdout:       true,
		Stderr:       true,
	})
	if logerr != nil {
		logger.WithField("error", logerr).
			Warn("unable to collect container logs")
	}

	if status != 0 {
		return fmt.Errorf("container exited with status %v", status)
	}

	return nil
}
