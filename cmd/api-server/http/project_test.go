package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/covey-ci/covey/store"

	"github.com/gorilla/mux"
)

type memStore struct {
	projectdb  map[int]store.Project
	workflowdb map[int]store.Workflow
	rundb      map[int]map[int]store.Run
	stepdb     map[int]store.Step

	createProject func(proj *store.Project) error
}

func newMemStore() *memStore {
	return &memStore{
		projectdb:  make(map[int]store.Project),
		workflowdb: make(map[int]store.Workflow),
		rundb:      make(map[int]map[int]store.Run),
		stepdb:     make(map[int]store.Step),
	}
}

func (st *memStore) CreateProject(proj *store.Project) error {
	if st.createProject != nil {
		return st.createProject(proj)
	}

	st.projectdb[proj.ID] = *proj
	return nil
}

func (st *memStore) GetProject(user string, id int) (store.Project, error) {
	ret, ok := st.projectdb[id]
	if !ok || ret.User.Email != user {
		return store.Project{}, store.ErrProjectNotFound
	}
	return ret, nil
}

func (st *memStore) GetProjects(user string) ([]store.Project, error) {
	ret := []store.Project{}
	for _, proj := range st.projectdb {
		if proj.User.Email == user {
			ret = append(ret, proj)
		}
	}

	return ret, nil
}

func (st *memStore) seedProjects() {
	st.projectdb[0] = store.Project{
		ID:          0,
		Name:        "test-a",
		Description: "A project used for testing.",
		User: store.User{
			Email: "user@test",
		},
	}

	st.projectdb[1] = store.Project{
		ID:          1,
		Name:        "test-b",
		Description: "A project used for testing.",
		User: store.User{
			Email: "user@test",
		},
	}
}

func autoAuth(fn http.HandlerFunc) http.HandlerFunc {
	return authAs("user@test")(fn)
}

// authAs builds a middleware that skips real token checks and sets the
// auth subject directly.
func authAs(sub string) middleware {
	return func(fn http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), keyReqSub, sub)

			fn(rw, req.WithContext(ctx))
		}
	}
}

func TestPostProject(t *testing.T) {
	send := make(chan []byte)
	st := newMemStore()

	// Setting this so that the ID gets set appropriately.
	st.createProject = func(proj *store.Project) error {
		proj.ID = 999
		st.projectdb[proj.ID] = *proj

		return nil
	}

	srv := NewServer(":9001", send, st, "test", "")

	proj := map[string]string{
		"name":        "test-create-project",
		"description": "A project for testing creation.",
	}

	payload, err := json.Marshal(proj)
	if err != nil {
		t.Fatalf("got error when marshaling request payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://test/projects", bytes.NewBuffer(payload))
	req = req.WithContext(context.WithValue(context.Background(), keyReqID, "test"))
	rw := httptest.NewRecorder()

	srv.handleCreateProject(rw, req)

	resp := rw.Result()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %v, got %v", http.StatusCreated, resp.StatusCode)
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}
	defer resp.Body.Close()

	var result store.Project
	err = json.Unmarshal(buf, &result)
	if err != nil {
		t.Fatalf("got error unmarshaling JSON response body: %v", err)
	}

	if result.ID != 999 {
		t.Fatalf("expected project ID to be set to 999, got %v", result.ID)
	}

	if result.Name != proj["name"] {
		t.Fatalf("expected name: %v, got %v", proj["name"], result.Name)
	}

	if result.Description != proj["description"] {
		t.Fatalf("expected description: %v, got %v", proj["description"], result.Description)
	}
}

func TestGetAllProjects(t *testing.T) {
	st := newMemStore()
	st.seedProjects()

	srv := NewServer(":9001", make(chan []byte), st, "test", "")

	req := httptest.NewRequest(http.MethodGet, "http://test/projects", nil)
	ctx := context.WithValue(
		context.WithValue(context.Background(), keyReqID, "test"),
		keyReqSub,
		"user@test",
	)
	req = req.WithContext(ctx)
	rw := httptest.NewRecorder()

	srv.handleGetProjects(rw, req)

	resp := rw.Result()
	payload, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status code %v, got %v", http.StatusOK, resp.StatusCode)
	}

	results := []store.Project{}
	err = json.Unmarshal(payload, &results)
	if err != nil {
		t.Fatalf("got error unmarshaling response body: %v", err)
	}

	if len(results) != len(st.projectdb) {
		t.Fatalf("expected to get %v projects, got %v", len(st.projectdb), len(results))
	}

	for _, result := range results {
		if stored, ok := st.projectdb[result.ID]; !ok {
			t.Fatalf("got project %+v that isn't in DB", result)
		} else {
			if result.Name != stored.Name {
				t.Fatalf("expected %+v, got %+v", stored, result)
			}

			if result.Description != stored.Description {
				t.Fatalf("expected %+v, got %+v", stored, result)
			}
		}
	}
}

func TestGetProject(t *testing.T) {
	st := newMemStore()
	st.seedProjects()

	srv := NewServer(":9001", make(chan []byte), st, "test", "")

	test := struct {
		input    int
		expected store.Project
		actual   store.Project
	}{
		input:    0,
		expected: st.projectdb[0],
	}

	r := mux.NewRouter()
	r.Handle("/projects/{id}", chain(srv.handleGetProject, setRequestID, autoAuth))

	ts := httptest.NewServer(r)
	defer ts.Close()

	requrl := fmt.Sprintf("%v/projects/%v", ts.URL, test.input)
	req, err := http.NewRequest(http.MethodGet, requrl, nil)
	if err != nil {
		t.Fatalf("error creating http request for test: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status code %v, got %v", http.StatusOK, resp.StatusCode)
	}

	err = json.Unmarshal(buf, &test.actual)
	if err != nil {
		t.Fatalf("got error unmarshaling JSON response body: %v", err)
	}

	if test.actual.ID != test.expected.ID {
		t.Fatalf("expected project ID to be set to %v, got %v", test.expected.ID, test.actual.ID)
	}

	if test.actual.Name != test.expected.Name {
		t.Fatalf("expected name: %v, got %v", test.expected.Name, test.actual.Name)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	st := newMemStore()
	st.seedProjects()

	srv := NewServer(":9001", make(chan []byte), st, "test", "")

	r := mux.NewRouter()
	r.Handle("/projects/{id}", chain(srv.handleGetProject, setRequestID, autoAuth))

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(fmt.Sprintf("%v/projects/42", ts.URL))
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status code %v, got %v", http.StatusNotFound, resp.StatusCode)
	}
}
