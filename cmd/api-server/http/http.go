package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/covey-ci/covey/store"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type ctxkey int

const (
	keyReqID ctxkey = iota
	keyReqSub
)

func init() {
	logger = logrus.WithField("package", "http")
}

// apiStore is a grouping of the minimum number of store
// interfaces the API needs to work.
type apiStore interface {
	GetWorkflows(user string, pid int) ([]store.Workflow, error)
	GetWorkflow(user string, id int) (store.Workflow, error)
	GetWorkflowsByRemote(url string) ([]store.Workflow, error)
	GetRun(user string, wid, n int) (store.Run, error)
	GetStep(user string, id int) (store.Step, error)

	CreateProject(*store.Project) error
	GetProject(user string, id int) (store.Project, error)
	GetProjects(user string) ([]store.Project, error)

	CreateGitRemote(user string, remote *store.GitRemote) error
	CreateWorkflow(user string, wf *store.Workflow) error

	Authenticate(user, pass string) error
}

// Server is a net/http.Server with dependencies like
// the database connection.
type Server struct {
	st          apiStore
	runch       chan<- []byte
	jwtsecret   []byte
	eventsecret []byte

	*http.Server
}

// NewServer returns a Server with a reference to `st`, listening
// on `addr`. Matched events turn into run requests published on
// `runch`. Event deliveries are verified against `eventsecret`;
// an empty secret disables verification.
func NewServer(addr string, runch chan<- []byte, st apiStore, jwtsecret, eventsecret string) *Server {
	srv := &Server{
		Server: &http.Server{
			Addr: addr,
		},

		st:          st,
		runch:       runch,
		jwtsecret:   []byte(jwtsecret),
		eventsecret: []byte(eventsecret),
	}

	r := mux.NewRouter()
	srv.Handler = r

	r.Handle("/", chain(getRoot, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/metrics", metricsHandler()).
		Methods(http.MethodGet)

	r.Handle("/events", chain(
		srv.handleEvent,
		setRequestID,
		logRequest,
		srv.checkEventSignature,
	)).Methods(http.MethodPost)

	r.Handle("/projects", chain(srv.handleCreateProject, setRequestID, logRequest)).
		Methods(http.MethodPost)

	r.Handle("/projects", chain(
		srv.handleGetProjects,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/projects/{id}", chain(
		srv.handleGetProject,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	// TODO: delete projects

	r.Handle("/projects/{project_id}/git_remotes", chain(
		srv.handleCreateGitRemote,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodPost)

	r.Handle("/projects/{project_id}/workflows", chain(
		srv.handleCreateWorkflow,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodPost)

	r.Handle("/projects/{project_id}/workflows", chain(
		srv.handleGetWorkflows,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/workflows/{id}", chain(
		srv.handleGetWorkflow,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/workflows/{wid}/runs/{count}", chain(
		srv.handleGetRun,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/steps/{id}", chain(
		srv.handleGetStep,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/auth", chain(srv.handleAuth, setRequestID, logRequest)).
		Methods(http.MethodPost)

	return srv
}

// Middleware is a function that can intercept the handling of an HTTP request
// to do something useful.
type middleware func(http.HandlerFunc) http.HandlerFunc

// Chain builds the final http.Handler from all the middlewares passed to it.
func chain(f http.HandlerFunc, mw ...middleware) http.Handler {
	// Because function calls are placed on a stack, they need to
	// be applied in reverse order from what they are passed in,
	// in order for calls to Chain() to be intuitive.
	for i := len(mw) - 1; i >= 0; i-- {
		f = mw[i](f)
	}

	return f
}

// SetRequestID sets a UUID on the request so that it can be tracked through
// logs, metrics and instrumentation.
func setRequestID(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		id := uuid.New().String()

		ctx := context.WithValue(req.Context(), keyReqID, id)
		logger.WithField("request_id", id).
			Debug("setting request ID")

		f(rw, req.WithContext(ctx))
	}
}

// LogRequest logs useful information about the request. It must have a
// "request_id" set on the request context.
func logRequest(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		reqid := req.Context().Value(keyReqID).(string)

		logger := logger.WithField("request_id", reqid)

		logger.Infof("%v %v", req.Method, req.URL)

		f(rw, req)
	}
}

func (srv *Server) checkAuth(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		hdrline, ok := req.Header["Authorization"]
		if !ok {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		hdr := strings.Split(hdrline[0], " ")

		if len(hdr) < 2 {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		// Tokens come in the form of "Bearer $TOKEN"
		bearer := hdr[1]

		keyfn := func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				err := errors.New("invalid signing method for bearer token")

				return nil, err
			}

			return srv.jwtsecret, nil
		}

		token, err := jwt.ParseWithClaims(bearer, &jwt.StandardClaims{}, keyfn)
		if err != nil {
			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(*jwt.StandardClaims); ok && token.Valid {
			if time.Now().Unix() > claims.ExpiresAt {
				err := errors.New("token expired")
				logger.WithError(err).Error("unable to authorize request")
				writeErrResp(rw, err, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(req.Context(), keyReqSub, claims.Subject)
			logger.WithField("sub", claims.Subject).
				Debug("setting auth subject")

			f(rw, req.WithContext(ctx))
			return
		}

		err = errors.New("invalid bearer token")
		logger.WithError(err).Error("unable to authorize request")
		writeErrResp(rw, err, http.StatusUnauthorized)
		return
	}
}

// eventSignatureHeader carries the hex HMAC-SHA256 of the request
// body, prefixed with "sha256=", computed with the shared event
// secret.
const eventSignatureHeader = "X-Covey-Signature-256"

// checkEventSignature verifies the HMAC signature a webhook (or the
// shim in front of one) puts on its event deliveries, so that knowing
// a registered remote URL isn't enough to queue runs. An empty secret
// disables verification; main warns about that at boot.
func (srv *Server) checkEventSignature(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		if len(srv.eventsecret) == 0 {
			f(rw, req)
			return
		}

		buf, err := ioutil.ReadAll(req.Body)
		if err != nil {
			logger.WithError(err).Error("unable to read request body")
			writeErrResp(rw, err, http.StatusInternalServerError)
			return
		}
		req.Body = ioutil.NopCloser(bytes.NewReader(buf))

		mac := hmac.New(sha256.New, srv.eventsecret)
		mac.Write(buf)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		got := req.Header.Get(eventSignatureHeader)
		if !hmac.Equal([]byte(got), []byte(expected)) {
			err := errors.New("missing or invalid event signature")

			logger.WithError(err).Error("unable to verify event delivery")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		f(rw, req)
	}
}

func getRoot(rw http.ResponseWriter, req *http.Request) {
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte(`{"service":"covey"}`))
}

func writeErrResp(rw http.ResponseWriter, err error, status int) {
	rw.WriteHeader(status)

	buf, merr := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	if merr != nil {
		logger.WithError(merr).Error("unable to marshal error response")
		return
	}

	rw.Write(buf)
}

// sendWithBackoff keeps trying to put the message on the channel,
// backing off between attempts. Not being able to queue a run is never
// allowed to fail the request that produced it.
func sendWithBackoff(logger *logrus.Entry, ch chan<- []byte, msg []byte) {
	backoff := time.Second

	for {
		select {
		case ch <- msg:
			return
		case <-time.After(backoff):
			logger.Warnf("send blocked, retrying in %v", backoff)

			backoff *= 2
			if backoff > time.Minute {
				backoff = time.Minute
			}
		}
	}
}
