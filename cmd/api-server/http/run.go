package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/covey-ci/covey/store"

	"github.com/gorilla/mux"
)

func (srv *Server) handleGetRun(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	reqSub := req.Context().Value(keyReqSub).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("checking mux vars")
	vars := mux.Vars(req)

	var rawwid, rawcount string
	var ok bool
	if rawwid, ok = vars["wid"]; !ok || rawwid == "" {
		err := errors.New("missing paramter 'wid' from request")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if rawcount, ok = vars["count"]; !ok || rawcount == "" {
		err := errors.New("missing paramter 'count' from request")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	wid, err := strconv.Atoi(rawwid)
	if err != nil {
		logger.WithError(err).Error("unable to parse workflow id as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	count, err := strconv.Atoi(rawcount)
	if err != nil {
		logger.WithError(err).Error("unable to parse run count as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("workflow_id", wid).
		WithField("count", count)

	logger.Debug("retrieving run from store")

	run, err := srv.st.GetRun(reqSub, wid, count)
	if err == store.ErrRunNotFound {
		logger.WithError(err).Error("unable to retrieve run")

		writeErrResp(rw, err, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).Error("unable to retrieve run")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Debug("marshaling response body")

	buf, err := json.Marshal(run)
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	rw.Write(buf)
}
