package coverage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Uploader sends raw coverage reports to an external aggregation
// service. The token travels only in the Authorization header; callers
// are responsible for keeping it out of their logs.
type Uploader struct {
	URL    string
	Client *http.Client
}

// UploadMeta identifies the run a report belongs to on the aggregation
// service's side.
type UploadMeta struct {
	Remote string
	Branch string
	SHA    string
}

// NewUploader returns an Uploader pointed at the service's upload
// endpoint.
func NewUploader(endpoint string) *Uploader {
	return &Uploader{
		URL: endpoint,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Upload posts the report file as the request body, authenticated with
// the bearer token. There is no retry here: the caller decides whether
// an upload failure fails the run.
func (u *Uploader) Upload(ctx context.Context, path, token string, meta UploadMeta) error {
	logger := logger.WithField("path", path)
	logger.Debug("uploading coverage report")

	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(buf))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("Authorization", "Bearer "+token)

	q := url.Values{}
	q.Set("remote", meta.Remote)
	q.Set("branch", meta.Branch)
	q.Set("sha", meta.SHA)
	req.URL.RawQuery = q.Encode()

	resp, err := u.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("coverage service responded with status %v", resp.StatusCode)
	}

	logger.Debug("coverage report uploaded")

	return nil
}
