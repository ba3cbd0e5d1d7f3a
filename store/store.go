package store

import (
	"errors"
	"time"

	"github.com/covey-ci/covey/workflow"

	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

var (
	// ErrProjectNotFound is what's returned when a project couldn't
	// be found in the store.
	ErrProjectNotFound = errors.New("project not found")
	// ErrWorkflowNotFound is what's returned when a workflow couldn't
	// be found in the store.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrNoWorkflows is an error returned when a method of a CoveyStore
	// doesn't find any workflows.
	ErrNoWorkflows = errors.New("no workflows found")
	// ErrRunNotFound is an error returned when a run isn't found for a
	// given workflow.
	ErrRunNotFound = errors.New("run not found")
	// ErrStepNotFound is an error returned when a Step isn't found.
	ErrStepNotFound = errors.New("step not found")
	// ErrNotAuthenticated is returned when a user's credentials don't
	// check out.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// DefaultGroup is the group users land in when none is given.
var DefaultGroup = Group{Name: "default"}

func init() {
	logger = log.WithFields(log.Fields{
		"package": "store",
	})
}

// CoveyStore is an all-encompassing interface for all the behaviors
// a store can exhibit. The interface is massive, but all this is included
// so that store implementations can be seamlessly swapped out. Consumers
// should define their own interfaces that use a subset of this interface's
// functions related to what they're interested in.
type CoveyStore interface {
	// CreateProject saves a project in the store, setting whatever
	// values on the input that need to be set at create-time.
	CreateProject(*Project) error
	// GetProject returns a Project with its GitRemotes. It doesn't
	// fetch the actual workflows in those remotes.
	GetProject(user string, id int) (Project, error)
	// GetProjects returns a preview list of Projects, without any
	// information as to what's inside those Projects.
	GetProjects(user string) ([]Project, error)

	CreateGitRemote(user string, remote *GitRemote) error

	GetWorkflows(user string, projectid int) ([]Workflow, error)
	GetWorkflow(user string, id int) (Workflow, error)
	// GetWorkflowsByRemote returns every workflow registered for the
	// remote URL, regardless of branch. Trigger matching against the
	// event happens on the caller's side. If there are none,
	// implementations should return ErrNoWorkflows.
	GetWorkflowsByRemote(url string) ([]Workflow, error)

	// GetRun returns the nth run for the workflow with the passed
	// in ID from the store, as long as the workflow's project is
	// visible to the user. If a run with that count isn't found
	// for whatever reason, ErrRunNotFound is returned.
	GetRun(user string, wid, n int) (Run, error)
	// GetStep returns the step with the given ID from the store,
	// as long as the owning workflow's project is visible to the
	// user. If no step with that ID is found, ErrStepNotFound
	// should be returned.
	GetStep(user string, id int) (Step, error)

	// These Create* methods save their respective resources in
	// the store, setting create-time values on the input.
	CreateWorkflow(user string, wf *Workflow) error
	CreateRun(*Run) error
	CreateStep(*Step) error

	// These Update* methods update their respective resources in
	// the store, setting update-time values on the input if there
	// are any.
	UpdateWorkflow(*Workflow) error
	UpdateRun(*Run) error
	UpdateStep(*Step) error

	CreateGroup(*Group) error
	CreateUser(*User) error
	Authenticate(user, pass string) error
}

// Project is a grouping of different workflows by their remotes.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	User  User  `json:"user"`
	Group Group `json:"group"`

	GitRemotes []GitRemote `json:"git_remotes,omitempty"`
}

// GitRemote is the remote location of a Git repository, specified
// by the URL and branch name.
type GitRemote struct {
	URL    string `json:"url"`
	Branch string `json:"branch"`

	ProjectID int `json:"-"`

	Workflows []Workflow `json:"workflows,omitempty"`
}

// Workflow is a registered pipeline definition: where it lives in the
// repository and what triggers it. The trigger rules are kept in the
// store so event ingest can match workflows without fetching the
// repository first.
type Workflow struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Success *bool  `json:"success"`

	On workflow.Triggers `json:"on"`

	GitRemote GitRemote `json:"git_remote"`
	ProjectID int       `json:"project_id"`

	// The runs are accessed run by run because a workflow
	// can be updated to have different steps. Placing them
	// directly on the workflow itself would mean that the
	// data from previous runs could be mangled.
	Runs []Run `json:"runs,omitempty"`
}

// Run is a representation of the actual state of execution of a workflow.
type Run struct {
	Count   int        `json:"count"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Success *bool      `json:"success"` // mid-run is neither success nor failure

	// The event that triggered this run.
	Event workflow.Event `json:"event"`

	// Coverage stays nil until a coverage report is collected
	// during the run.
	Coverage *Coverage `json:"coverage,omitempty"`

	// This attribute is necessary to have here because a run can only be
	// identified by the combination of its workflow and its place.
	WorkflowID int `json:"workflow_id"`

	Steps []Step `json:"steps,omitempty"`
}

// Coverage is the coverage result recorded on a run after its report
// was parsed.
type Coverage struct {
	LineRate   float64 `json:"line_rate"`
	ReportPath string  `json:"report_path"`
	Uploaded   bool    `json:"uploaded"`
}

// Step is the representation of the actual state of execution of a
// single workflow step.
type Step struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Success *bool      `json:"success"` // mid-run is neither success nor failure

	// Log holds the step's combined output, with secrets redacted.
	Log string `json:"log,omitempty"`

	WorkflowID int `json:"-"`
	RunCount   int `json:"-"`
}

// User is an entity that's authorized to interact with the CI system.
type User struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`

	Group Group `json:"group"`
}

// Group is an aggregate of users to make things like assigning permissions
// to multiple users easer.
type Group struct {
	Name string
}

// MarkSuccess is a convenience method for setting the success status.
func (wf *Workflow) MarkSuccess(s bool) {
	wf.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (wf *Workflow) Failed() bool {
	return wf.Success != nil && *wf.Success == false
}

// SetStart is a convenience method for setting the start time pointer.
func (r *Run) SetStart() {
	t := time.Now()
	r.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (r *Run) SetEnd() {
	t := time.Now()
	r.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (r *Run) MarkSuccess(s bool) {
	r.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (r *Run) Failed() bool {
	return r.Success != nil && *r.Success == false
}

// SetStart is a convenience method for setting the start time pointer.
func (st *Step) SetStart() {
	t := time.Now()
	st.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (st *Step) SetEnd() {
	t := time.Now()
	st.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (st *Step) MarkSuccess(s bool) {
	st.Success = &s
}
