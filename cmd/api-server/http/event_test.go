package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/covey-ci/covey/runner"
	"github.com/covey-ci/covey/store"
)

func (st *memStore) GetWorkflowsByRemote(url string) ([]store.Workflow, error) {
	ret := []store.Workflow{}
	for _, wf := range st.workflowdb {
		if wf.GitRemote.URL == url {
			ret = append(ret, wf)
		}
	}

	if len(ret) == 0 {
		return nil, store.ErrNoWorkflows
	}

	return ret, nil
}

func postEvent(t *testing.T, srv *Server, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "http://test/events",
		bytes.NewBufferString(body))
	req = req.WithContext(context.WithValue(context.Background(), keyReqID, "test"))
	rw := httptest.NewRecorder()

	srv.handleEvent(rw, req)

	return rw.Result()
}

func TestPostEventQueuesRun(t *testing.T) {
	send := make(chan []byte, 1)
	st := newMemStore()
	st.seedProjects()
	st.seedWorkflows()

	srv := NewServer(":9001", send, st, "test", "")

	resp := postEvent(t, srv, `{
		"remote": "https://github.com/test/test-a.git",
		"type": "push",
		"branch": "7-add-unit-tests",
		"sha": "abc123"
	}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	var result map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("got error unmarshaling response body: %v", err)
	}

	if result["matched"] != 1 {
		t.Fatalf("expected 1 matched workflow, got %v", result["matched"])
	}

	// The send happens on a goroutine, so give it a moment.
	var rawmsg []byte
	select {
	case rawmsg = <-send:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run request on queue channel")
	}

	var runreq runner.Request
	if err := json.Unmarshal(rawmsg, &runreq); err != nil {
		t.Fatalf("got error unmarshaling run request: %v", err)
	}

	if runreq.WorkflowID != 1 {
		t.Fatalf("expected workflow ID 1, got %v", runreq.WorkflowID)
	}

	if runreq.WorkflowPath != ".covey/coverage.yml" {
		t.Fatalf("expected workflow path %q, got %q", ".covey/coverage.yml", runreq.WorkflowPath)
	}

	if runreq.Event.Branch != "7-add-unit-tests" {
		t.Fatalf("expected event branch %q, got %q", "7-add-unit-tests", runreq.Event.Branch)
	}

	if runreq.Event.SHA != "abc123" {
		t.Fatalf("expected event sha %q, got %q", "abc123", runreq.Event.SHA)
	}
}

func TestPostEventPullRequestBaseMatch(t *testing.T) {
	send := make(chan []byte, 1)
	st := newMemStore()
	st.seedProjects()
	st.seedWorkflows()

	srv := NewServer(":9001", send, st, "test", "")

	// Head branch isn't registered anywhere, only the base counts.
	resp := postEvent(t, srv, `{
		"remote": "https://github.com/test/test-a.git",
		"type": "pull_request",
		"branch": "feature/xyz",
		"base": "main",
		"sha": "def456"
	}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	var result map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("got error unmarshaling response body: %v", err)
	}

	if result["matched"] != 1 {
		t.Fatalf("expected 1 matched workflow, got %v", result["matched"])
	}
}

func TestPostEventNoMatch(t *testing.T) {
	send := make(chan []byte, 1)
	st := newMemStore()
	st.seedProjects()
	st.seedWorkflows()

	srv := NewServer(":9001", send, st, "test", "")

	resp := postEvent(t, srv, `{
		"remote": "https://github.com/test/test-a.git",
		"type": "push",
		"branch": "some-other-branch",
		"sha": "abc123"
	}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	var result map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("got error unmarshaling response body: %v", err)
	}

	if result["matched"] != 0 {
		t.Fatalf("expected 0 matched workflows, got %v", result["matched"])
	}

	select {
	case msg := <-send:
		t.Fatalf("expected nothing on queue channel, got %s", msg)
	default:
	}
}

func TestPostEventUnknownRemote(t *testing.T) {
	st := newMemStore()

	srv := NewServer(":9001", make(chan []byte), st, "test", "")

	resp := postEvent(t, srv, `{
		"remote": "https://github.com/test/unregistered.git",
		"type": "push",
		"branch": "main",
		"sha": "abc123"
	}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}
}

func TestPostEventBadType(t *testing.T) {
	st := newMemStore()

	srv := NewServer(":9001", make(chan []byte), st, "test", "")

	resp := postEvent(t, srv, `{
		"remote": "https://github.com/test/test-a.git",
		"type": "tag",
		"branch": "main",
		"sha": "abc123"
	}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %v, got %v", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestPostEventMissingRemote(t *testing.T) {
	st := newMemStore()

	srv := NewServer(":9001", make(chan []byte), st, "test", "")

	resp := postEvent(t, srv, `{
		"type": "push",
		"branch": "main",
		"sha": "abc123"
	}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %v, got %v", http.StatusBadRequest, resp.StatusCode)
	}
}

func signEvent(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestPostEventRejectsUnsignedDelivery(t *testing.T) {
	st := newMemStore()
	st.seedProjects()
	st.seedWorkflows()

	srv := NewServer(":9001", make(chan []byte, 1), st, "test", "event-secret")

	body := []byte(`{
		"remote": "https://github.com/test/test-a.git",
		"type": "push",
		"branch": "main",
		"sha": "abc123"
	}`)

	// No signature header at all.
	req := httptest.NewRequest(http.MethodPost, "http://test/events", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %v, got %v", http.StatusUnauthorized, rw.Code)
	}

	// A signature computed with the wrong secret.
	req = httptest.NewRequest(http.MethodPost, "http://test/events", bytes.NewReader(body))
	req.Header.Set(eventSignatureHeader, signEvent("wrong-secret", body))
	rw = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %v, got %v", http.StatusUnauthorized, rw.Code)
	}
}

func TestPostEventAcceptsSignedDelivery(t *testing.T) {
	send := make(chan []byte, 1)
	st := newMemStore()
	st.seedProjects()
	st.seedWorkflows()

	srv := NewServer(":9001", send, st, "test", "event-secret")

	body := []byte(`{
		"remote": "https://github.com/test/test-a.git",
		"type": "push",
		"branch": "main",
		"sha": "abc123"
	}`)

	req := httptest.NewRequest(http.MethodPost, "http://test/events", bytes.NewReader(body))
	req.Header.Set(eventSignatureHeader, signEvent("event-secret", body))
	rw := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, rw.Code)
	}

	select {
	case <-send:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run request on queue channel")
	}
}
