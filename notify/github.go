package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/covey-ci/covey/store"

	"github.com/google/go-github/github"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "notify",
	})
}

// statusContext is the name runs show up under on the commit.
const statusContext = "covey"

// GitHub posts run conclusions back to the originating repository as
// commit statuses.
type GitHub struct {
	client *github.Client
}

// NewGitHub returns a notifier authenticated with the access token.
func NewGitHub(token string) *GitHub {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), src))

	return &GitHub{
		client: client,
	}
}

// Notify sets the commit status for sha on the repository the remote
// points at. state is one of "pending", "success" or "failure".
func (n *GitHub) Notify(ctx context.Context, remote store.GitRemote, sha, state, desc string) error {
	owner, repo, err := splitRemote(remote.URL)
	if err != nil {
		return err
	}

	logger := logger.WithFields(log.Fields{
		"owner": owner,
		"repo":  repo,
		"sha":   sha,
		"state": state,
	})
	logger.Debug("setting commit status")

	status := &github.RepoStatus{
		State:       github.String(state),
		Context:     github.String(statusContext),
		Description: github.String(desc),
	}

	_, _, err = n.client.Repositories.CreateStatus(ctx, owner, repo, sha, status)
	return err
}

// splitRemote extracts the owner and repository name from a GitHub
// remote URL like "https://github.com/owner/repo.git".
func splitRemote(remote string) (owner, repo string, err error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", "", err
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("remote %q is not an owner/repo URL", remote)
	}

	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")

	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("remote %q is not an owner/repo URL", remote)
	}

	return owner, repo, nil
}
