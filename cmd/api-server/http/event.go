package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/covey-ci/covey/runner"
	"github.com/covey-ci/covey/store"
	"github.com/covey-ci/covey/workflow"
)

// eventRequest is the payload a forge (or a webhook shim in front of
// one) posts when something happens in a repository.
type eventRequest struct {
	Remote string `json:"remote"`

	workflow.Event
}

// handleEvent matches an incoming repository event against the
// registered workflows for that remote and queues a run request for
// every workflow whose triggers match. The response reports how many
// runs were queued; queuing itself never fails the request.
func (srv *Server) handleEvent(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("reading request body")
	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithField("error", err).
			Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Debug("unmarshaling request body")
	var ev eventRequest
	err = json.Unmarshal(buf, &ev)
	if err != nil {
		logger.WithField("error", err).
			Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if ev.Remote == "" {
		err := errors.New("missing remote in event")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if ev.Type != workflow.EventPush && ev.Type != workflow.EventPullRequest {
		err := fmt.Errorf("unknown event type %q", ev.Type)
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	eventsReceivedTotal.WithLabelValues(ev.Type).Inc()

	logger = logger.WithField("remote", ev.Remote).
		WithField("event", ev.Type)

	logger.Debug("retrieving workflows for remote")

	workflows, err := srv.st.GetWorkflowsByRemote(ev.Remote)
	if err == store.ErrNoWorkflows {
		logger.Info("no workflows registered for remote")

		writeMatched(rw, http.StatusOK, 0)
		return
	}
	if err != nil {
		logger.WithError(err).Error("unable to retrieve workflows")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	matched := 0

	for _, wf := range workflows {
		if !wf.On.Match(ev.Event) {
			continue
		}

		msg := runner.Request{
			GitRemote:    wf.GitRemote,
			WorkflowID:   wf.ID,
			WorkflowName: wf.Name,
			WorkflowPath: wf.Path,
			Event:        ev.Event,
		}

		rawmsg, err := json.Marshal(msg)
		if err != nil {
			logger.WithError(err).
				WithField("workflow", wf.Name).
				Error("unable to marshal run request")
			continue
		}

		logger.WithField("workflow", wf.Name).
			Info("queuing workflow run")

		go sendWithBackoff(logger, srv.runch, rawmsg)
		runsQueuedTotal.Inc()
		matched++
	}

	writeMatched(rw, http.StatusAccepted, matched)
}

func writeMatched(rw http.ResponseWriter, status, matched int) {
	rw.WriteHeader(status)

	buf, err := json.Marshal(map[string]int{
		"matched": matched,
	})
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")
		return
	}

	rw.Write(buf)
}
