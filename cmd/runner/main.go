package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/covey-ci/covey/coverage"
	"github.com/covey-ci/covey/notify"
	"github.com/covey-ci/covey/queue"
	"github.com/covey-ci/covey/runner"
	"github.com/covey-ci/covey/secret"
	"github.com/covey-ci/covey/store"

	nats "github.com/nats-io/go-nats"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

var (
	pgconnstr, natsURL string
	coverageURL        string
	githubToken        string
	runnerMode         string
	dockerHost         string
	workspace          string

	vaultcfg secret.VaultConfig
)

func init() {
	lvl, err := logrus.ParseLevel(os.Getenv("COVEY_LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)

	logger = logrus.WithField("package", "main")

	pguser := os.Getenv("COVEY_POSTGRES_USER")
	if pguser == "" {
		logger.Fatal("need COVEY_POSTGRES_USER")
	}

	pgpass := os.Getenv("COVEY_POSTGRES_PASS")
	if pgpass == "" {
		logger.Fatal("need COVEY_POSTGRES_PASS")
	}

	pghref := os.Getenv("COVEY_POSTGRES_HREF")
	if pghref == "" {
		logger.Fatal("need COVEY_POSTGRES_HREF")
	}

	pgdb := os.Getenv("COVEY_POSTGRES_DB")
	if pgdb == "" {
		logger.Fatal("need COVEY_POSTGRES_DB")
	}

	pgssl := os.Getenv("COVEY_POSTGRES_SSL")
	if pgssl == "" {
		logger.Info("COVEY_POSTGRES_SSL not set - defaulting to verify-full")
		pgssl = "verify-full"
	}

	pgconnstr = fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=%v",
		pguser, pgpass, pghref, pgdb, pgssl)

	natsURL = os.Getenv("COVEY_NATS_URL")
	if natsURL == "" {
		logger.Warnf("setting NATS url to %v", nats.DefaultURL)
		natsURL = nats.DefaultURL
	}

	coverageURL = os.Getenv("COVEY_COVERAGE_URL")
	if coverageURL == "" {
		logger.Warn("COVEY_COVERAGE_URL not set - coverage uploads will fail")
	}

	githubToken = os.Getenv("COVEY_GITHUB_TOKEN")
	if githubToken == "" {
		logger.Info("COVEY_GITHUB_TOKEN not set - commit statuses disabled")
	}

	runnerMode = os.Getenv("COVEY_RUNNER_MODE")
	if runnerMode == "" {
		runnerMode = "docker"
	}

	dockerHost = os.Getenv("COVEY_DOCKER_HOST")
	if dockerHost == "" {
		dockerHost = "unix:///var/run/docker.sock"
	}

	workspace = os.Getenv("COVEY_WORKSPACE")
	if workspace == "" {
		workspace = "/tmp/covey"
	}

	vaultcfg = secret.VaultConfig{
		Address:  os.Getenv("COVEY_VAULT_ADDR"),
		RoleID:   os.Getenv("COVEY_VAULT_ROLE_ID"),
		SecretID: os.Getenv("COVEY_VAULT_SECRET_ID"),
		Mount:    os.Getenv("COVEY_VAULT_MOUNT"),
		Path:     os.Getenv("COVEY_VAULT_PATH"),
	}
}

func main() {
	logger.Info("booting runner agent...")

	ctx := context.Background()

	logger.Info("connecting to database")
	st, err := store.NewPostgres(pgconnstr)
	if err != nil {
		logger.WithField("error", err).Fatal("unable to connect to postgres")
	}

	logger.Info("setting up NATS connection")
	bus, err := queue.NewNATS(natsURL)
	if err != nil {
		logger.WithField("error", err).Fatal("unable to connect to NATS")
	}
	defer bus.Close()

	recv, err := bus.ReceiverOn("runs")
	if err != nil {
		logger.WithField("error", err).Fatal("unable to subscribe to runs")
	}

	secrets := secretProvider(ctx)
	uploader := coverage.NewUploader(coverageURL)

	var notifier runner.Notifier
	if githubToken != "" {
		notifier = notify.NewGitHub(githubToken)
	}

	logger.WithField("mode", runnerMode).Info("waiting for run requests")

	for rawmsg := range recv {
		var req runner.Request
		if err := json.Unmarshal(rawmsg, &req); err != nil {
			logger.WithField("error", err).
				Error("unable to unmarshal run request, dropping it")
			continue
		}

		logger := logger.WithField("workflow", req.WorkflowName)

		wf, err := runner.FetchDefinition(ctx, req.GitRemote, req.WorkflowPath)
		if err != nil {
			logger.WithField("error", err).
				Error("unable to fetch workflow definition, dropping request")
			continue
		}

		exec, cleanup, err := newExecutor()
		if err != nil {
			logger.WithField("error", err).
				Error("unable to set up executor, dropping request")
			continue
		}

		r := runner.New(st, exec, secrets, uploader, notifier)

		if _, err := r.Run(ctx, req, wf); err != nil {
			logger.WithField("error", err).Error("run aborted")
		}

		cleanup()
	}
}

// newExecutor builds a fresh executor per run so workspaces never leak
// between runs.
func newExecutor() (runner.Executor, func(), error) {
	if runnerMode == "local" {
		exec, err := runner.NewLocalExecutor(workspace)
		if err != nil {
			return nil, nil, err
		}

		return exec, func() {}, nil
	}

	exec, err := runner.NewDockerExecutor(dockerHost, "")
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := exec.Close(); err != nil {
			logger.WithField("error", err).Warn("unable to clean up docker volume")
		}
	}

	return exec, cleanup, nil
}

func secretProvider(ctx context.Context) secret.Provider {
	if vaultcfg.Address == "" {
		logger.Info("COVEY_VAULT_ADDR not set - resolving secrets from environment")
		return secret.EnvProvider{Prefix: "COVEY_SECRET_"}
	}

	provider, err := secret.NewVaultProvider(ctx, vaultcfg)
	if err != nil {
		logger.WithField("error", err).Fatal("unable to connect to vault")
	}

	return provider
}
