package store

import (
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq" // load the postgres driver
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Postgres is a PostgreSQL database that's also a CoveyStore.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a CoveyStore backed by PostgreSQL. It connects to the
// database using connstr.
func NewPostgres(connstr string) (CoveyStore, error) {
	logger = logger.WithField("store", "postgres")

	logger.Debug("connecting to database")

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		logger.WithField("error", err).Debug("unable to connect to database")
		return nil, err
	}

	return &Postgres{
		db: db,
	}, nil
}

// CreateProject saves the project in the database and sets its ID to
// what Postgres assigned it.
func (st *Postgres) CreateProject(p *Project) error {
	logger := logger.WithField("project", p.Name)
	logger.Debug("saving project to postgres")

	sqlinsert := `
	INSERT INTO projects (name, description, user_email, group_name)
	VALUES
		($1, $2, $3, $4)
	RETURNING id;
	`

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(sqlinsert, p.Name, p.Description,
		p.User.Email, p.Group.Name,
	).Scan(&p.ID)

	if err != nil {
		logger.WithField("error", err).
			Debug("unable to create project")
	}
	return err
}

// CreateGitRemote stores the passed in GitRemote in Postgres, as long as
// the project belongs to the user.
func (st *Postgres) CreateGitRemote(user string, r *GitRemote) error {
	logger := logger.WithFields(log.Fields{
		"url":    r.URL,
		"branch": r.Branch,
	})
	logger.Debug("saving remote to postgres")

	sqlinsert := `
	INSERT INTO git_remotes (url, branch, project_id)
	SELECT $1, $2, proj.id
	FROM projects AS proj
	WHERE proj.id = $3 AND proj.user_email = $4;
	`

	_, err := st.db.Exec(sqlinsert, r.URL, r.Branch, r.ProjectID, user)

	if err != nil {
		logger.WithField("error", err).
			Debug("unable to create remote")
	}
	return err
}

// GetProject retrieves the Project with the given id from postgres. If
// it's not found for the user it returns ErrProjectNotFound.
func (st *Postgres) GetProject(user string, id int) (Project, error) {
	logger := logger.WithField("project_id", id)
	logger.Debug("getting project from postgres")

	sqlq := `
	SELECT proj.id, proj.name, proj.description,
		u.email, u.name, g.name,
		gr.url, gr.branch
	FROM projects AS proj
	LEFT JOIN git_remotes AS gr
	ON proj.id = gr.project_id
	INNER JOIN users AS u
	ON proj.user_email = u.email
	INNER JOIN groups AS g
	ON u.group_name = g.name
	WHERE (u.email = $2 OR u.group_name = proj.group_name)
		AND proj.id = $1;
	`

	rows, err := st.db.Query(sqlq, id, user)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return Project{}, err
	}
	defer rows.Close()

	p := Project{
		GitRemotes: []GitRemote{},
	}

	found := false
	for rows.Next() {
		found = true

		var gr GitRemote
		var desc sql.NullString
		var url, branch sql.NullString
		// It's safe to always overwrite `p` here because these values
		// should always be the same.
		err := rows.Scan(&p.ID, &p.Name, &desc,
			&p.User.Email, &p.User.Name, &p.Group.Name,
			&url, &branch)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return p, err
		}

		p.User.Group.Name = p.Group.Name

		if desc.Valid {
			p.Description = desc.String
		}

		if url.Valid {
			gr.URL = url.String
			gr.Branch = branch.String
			gr.ProjectID = p.ID
			p.GitRemotes = append(p.GitRemotes, gr)
		}
	}

	if !found {
		return p, ErrProjectNotFound
	}

	return p, nil
}

// GetProjects retrieves all Projects visible to the user from Postgres.
func (st *Postgres) GetProjects(user string) ([]Project, error) {
	logger.Debug("fetching all projects from postgres")

	sqlq := `
	SELECT p.id, p.name, p.description, u.email, u.name, g.name
	FROM projects AS p
	INNER JOIN users AS u
	ON p.user_email = u.email
	INNER JOIN groups AS g
	ON u.group_name = g.name
	WHERE u.email = $1
		OR u.group_name = p.group_name;
	`

	rows, err := st.db.Query(sqlq, user)
	if err != nil {
		logger.WithField("error", err).Debug("unable to query database")
		return nil, err
	}
	defer rows.Close()

	ps := []Project{}
	for rows.Next() {
		p := Project{}
		var desc sql.NullString
		err := rows.Scan(&p.ID, &p.Name, &desc,
			&p.User.Email, &p.User.Name, &p.User.Group.Name)
		if err != nil {
			logger.WithField("error", err).Debug("unable to scan row")
			return ps, err
		}

		// This needs to be populated correctly.
		p.Group.Name = p.User.Group.Name

		if desc.Valid {
			p.Description = desc.String
		}

		ps = append(ps, p)
	}

	return ps, nil
}

// GetWorkflows implements the CoveyStore interface. It returns a list of
// all workflows for the project with the given id.
func (st *Postgres) GetWorkflows(user string, pid int) ([]Workflow, error) {
	sqlq := `
	SELECT w.id, w.name, w.path, w.triggers, w.remote_url, w.remote_branch, w.success
	FROM workflows AS w
	INNER JOIN projects AS proj
	ON w.project_id = proj.id
	INNER JOIN users AS u
	ON proj.user_email = u.email
	WHERE (u.email = $2 OR u.group_name = proj.group_name)
		AND w.project_id = $1;
	`

	logger := logger.WithFields(log.Fields{
		"project_id": pid,
		"query":      "get_workflows",
	})

	rows, err := st.db.Query(sqlq, pid, user)
	if err != nil {
		logger.WithError(err).Debug("unable to query postgres for workflows")
		return nil, err
	}
	defer rows.Close()

	ws := []Workflow{}
	for rows.Next() {
		w := Workflow{
			ProjectID: pid,
		}

		var triggers []byte
		err := rows.Scan(&w.ID, &w.Name, &w.Path, &triggers,
			&w.GitRemote.URL, &w.GitRemote.Branch, &w.Success)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")

			return ws, err
		}

		if err := json.Unmarshal(triggers, &w.On); err != nil {
			logger.WithError(err).Debug("unable to unmarshal triggers")
			return ws, err
		}

		ws = append(ws, w)
	}

	return ws, nil
}

// GetWorkflow retrieves the Workflow with the given id from postgres,
// along with its runs.
func (st *Postgres) GetWorkflow(user string, id int) (Workflow, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting workflow from postgres")

	sqlq := `
	SELECT w.name, w.path, w.triggers, w.success, w.remote_url, w.remote_branch, w.project_id,
		r.count, r.start_time, r.end_time, r.success,
		r.event_type, r.event_branch, r.event_base, r.event_sha
	FROM workflows AS w
	LEFT JOIN runs AS r
	ON w.id = r.workflow_id
	INNER JOIN projects AS proj
	ON w.project_id = proj.id
	INNER JOIN users AS u
	ON proj.user_email = u.email
	WHERE (u.email = $2 OR u.group_name = proj.group_name)
		AND w.id = $1;
	`

	var w Workflow
	rows, err := st.db.Query(sqlq, id, user)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return w, err
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true

		r := Run{WorkflowID: id}
		var triggers []byte
		var count sql.NullInt64
		var etype, ebranch, ebase, esha sql.NullString

		// It's safe to always overwrite `w` here because these values
		// should always be the same.
		err := rows.Scan(&w.Name, &w.Path, &triggers, &w.Success,
			&w.GitRemote.URL, &w.GitRemote.Branch, &w.ProjectID,
			&count, &r.Start, &r.End, &r.Success,
			&etype, &ebranch, &ebase, &esha)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return w, err
		}

		if err := json.Unmarshal(triggers, &w.On); err != nil {
			logger.WithError(err).Debug("unable to unmarshal triggers")
			return w, err
		}

		if count.Valid {
			r.Count = int(count.Int64)
			r.Event.Type = etype.String
			r.Event.Branch = ebranch.String
			r.Event.Base = ebase.String
			r.Event.SHA = esha.String

			w.Runs = append(w.Runs, r)
		}
	}

	if !found {
		return w, ErrWorkflowNotFound
	}

	w.ID = id

	return w, nil
}

// GetWorkflowsByRemote returns every workflow registered for the remote
// URL. If no workflows are found it returns ErrNoWorkflows.
func (st *Postgres) GetWorkflowsByRemote(url string) ([]Workflow, error) {
	logger := logger.WithFields(log.Fields{
		"url":   url,
		"query": "get_workflows_by_remote",
	})

	sqlq := `
	SELECT id, name, path, triggers, success, remote_url, remote_branch, project_id
	FROM workflows
	WHERE remote_url = $1;
	`

	logger.Debug("retrieving workflows from postgres")

	rows, err := st.db.Query(sqlq, url)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return nil, err
	}
	defer rows.Close()

	ws := []Workflow{}
	for rows.Next() {
		var w Workflow
		var triggers []byte

		err := rows.Scan(&w.ID, &w.Name, &w.Path, &triggers, &w.Success,
			&w.GitRemote.URL, &w.GitRemote.Branch, &w.ProjectID)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return ws, err
		}

		if err := json.Unmarshal(triggers, &w.On); err != nil {
			logger.WithError(err).Debug("unable to unmarshal triggers")
			return ws, err
		}

		ws = append(ws, w)
	}

	if len(ws) == 0 {
		return ws, ErrNoWorkflows
	}

	return ws, nil
}

// CreateWorkflow saves a Workflow to Postgres.
func (st *Postgres) CreateWorkflow(user string, w *Workflow) error {
	logger := logger.WithFields(log.Fields{
		"name":   w.Name,
		"url":    w.GitRemote.URL,
		"branch": w.GitRemote.Branch,

		"query": "create_workflow",
	})

	triggers, err := json.Marshal(w.On)
	if err != nil {
		logger.WithField("error", err).Debug("unable to marshal triggers")
		return err
	}

	sqlinsert := `
	WITH project_id AS (
		SELECT gr.project_id FROM git_remotes AS gr
		INNER JOIN projects AS proj
		ON gr.project_id = proj.id
		WHERE gr.url = $2
			AND gr.branch = $3
			AND proj.user_email = $5
	)
	INSERT INTO workflows(name, path, remote_url, remote_branch, triggers, project_id)
	SELECT $1, $4, $2, $3, $6, project_id
	FROM project_id
	RETURNING id;
	`

	logger.Debug("saving workflow")

	// Using QueryRow because the insert is returning "id".
	err = st.db.QueryRow(
		sqlinsert, w.Name, w.GitRemote.URL, w.GitRemote.Branch, w.Path, user, triggers).
		Scan(&w.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert workflow")
		return err
	}

	logger.Debug("workflow saved")

	return nil
}

// UpdateWorkflow is part of the CoveyStore interface.
func (st *Postgres) UpdateWorkflow(w *Workflow) error {
	sqlupdate := `
	UPDATE workflows
	SET success = $1
	WHERE workflows.id = $2
	`

	logger := logger.WithFields(log.Fields{
		"id":      w.ID,
		"success": w.Success,
		"query":   "set_workflow_success",
	})

	logger.Debug("setting workflow success")

	_, err := st.db.Exec(sqlupdate, w.Success, w.ID)
	return err
}

// CreateRun is part of the CoveyStore interface. It creates a new
// workflow run in the database and sets the count.
func (st *Postgres) CreateRun(r *Run) error {
	logger := logger.WithFields(log.Fields{
		"workflow_id": r.WorkflowID,
	})

	sqlinsert := `
	WITH run_count AS (
		SELECT COUNT(*) from runs
		WHERE runs.workflow_id = $4
	)
	INSERT INTO runs (count, start_time, end_time, success,
		event_type, event_branch, event_base, event_sha, workflow_id)
	SELECT run_count.count+1, $1, $2, $3, $5, $6, $7, $8, $4
	FROM run_count
	RETURNING count
	`

	logger.Debug("saving workflow run")

	// Using QueryRow because the insert is returning "count".
	err := st.db.QueryRow(
		sqlinsert, r.Start, r.End, r.Success, r.WorkflowID,
		r.Event.Type, r.Event.Branch, r.Event.Base, r.Event.SHA).
		Scan(&r.Count)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert workflow run")
		return err
	}

	logger.Debug("workflow run saved")

	return nil
}

// UpdateRun implements part of CoveyStore. It updates a run's success
// status, end time and coverage result.
func (st *Postgres) UpdateRun(r *Run) error {
	logger := logger.WithFields(log.Fields{
		"workflow_id": r.WorkflowID,
		"count":       r.Count,
		"end":         r.End,
		"success":     r.Success,
	})

	sqlupdate := `
	UPDATE runs
	SET success = $1, end_time = $2,
		coverage_line_rate = $3, coverage_report = $4, coverage_uploaded = $5
	WHERE runs.workflow_id = $6 AND runs.count = $7
	`

	logger.Debug("saving workflow run")

	var lineRate sql.NullFloat64
	var report sql.NullString
	var uploaded sql.NullBool
	if r.Coverage != nil {
		lineRate = sql.NullFloat64{Float64: r.Coverage.LineRate, Valid: true}
		report = sql.NullString{String: r.Coverage.ReportPath, Valid: true}
		uploaded = sql.NullBool{Bool: r.Coverage.Uploaded, Valid: true}
	}

	_, err := st.db.Exec(sqlupdate, r.Success, r.End,
		lineRate, report, uploaded, r.WorkflowID, r.Count)

	logger.Debug("workflow run saved")

	return err
}

// CreateStep is part of the CoveyStore interface. It creates a new run
// step in the database and sets the ID.
func (st *Postgres) CreateStep(s *Step) error {
	logger := logger.WithFields(log.Fields{
		"workflow_id": s.WorkflowID,
		"run_count":   s.RunCount,
		"name":        s.Name,
	})

	sqlinsert := `
	INSERT INTO steps (name, start_time, end_time, success, log, workflow_id, run_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id
	`

	logger.Debug("saving run step")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(
		sqlinsert, s.Name, s.Start, s.End, s.Success, s.Log, s.WorkflowID, s.RunCount).
		Scan(&s.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert run step")
		return err
	}

	logger.Debug("run step saved")

	return nil
}

// UpdateStep is part of the CoveyStore interface. It updates a step's
// success status, end time and log with what's passed in.
func (st *Postgres) UpdateStep(s *Step) error {
	logger := logger.WithFields(log.Fields{
		"workflow_id": s.WorkflowID,
		"run_count":   s.RunCount,
		"name":        s.Name,
		"id":          s.ID,
		"success":     s.Success,
		"end":         s.End,
	})

	sqlupdate := `
	UPDATE steps
	SET success = $1, end_time = $2, log = $3
	WHERE steps.id = $4
	`

	logger.Debug("saving run step")

	_, err := st.db.Exec(sqlupdate, s.Success, s.End, s.Log, s.ID)

	logger.Debug("run step saved")

	return err
}

// GetRun returns the nth run of the workflow with the given ID, as
// long as the workflow's project is visible to the user. If the run
// isn't found it returns ErrRunNotFound.
func (st *Postgres) GetRun(user string, wid, n int) (Run, error) {
	logger := logger.WithFields(log.Fields{
		"workflow_id": wid,
		"count":       n,
	})
	logger.Debug("getting run from postgres")

	sqlq := `
	SELECT r.start_time, r.end_time, r.success,
		r.event_type, r.event_branch, r.event_base, r.event_sha,
		r.coverage_line_rate, r.coverage_report, r.coverage_uploaded,
		s.id, s.name, s.start_time, s.end_time, s.success, s.log
	FROM runs AS r
	LEFT JOIN steps AS s
	ON r.count = s.run_count
		AND r.workflow_id = s.workflow_id
	INNER JOIN workflows AS w
	ON r.workflow_id = w.id
	INNER JOIN projects AS proj
	ON w.project_id = proj.id
	INNER JOIN users AS u
	ON proj.user_email = u.email
	WHERE (u.email = $3 OR u.group_name = proj.group_name)
		AND r.workflow_id = $1 AND r.count = $2
	`

	r := Run{
		WorkflowID: wid,
		Count:      n,
	}
	rows, err := st.db.Query(sqlq, wid, n, user)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return r, err
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true

		s := Step{
			WorkflowID: wid,
			RunCount:   n,
		}

		var lineRate sql.NullFloat64
		var report sql.NullString
		var uploaded sql.NullBool
		var sid sql.NullInt64
		var sname, slog sql.NullString
		var ssuccess sql.NullBool

		// It's safe to always overwrite `r` here because these values
		// should always be the same.
		err := rows.Scan(&r.Start, &r.End, &r.Success,
			&r.Event.Type, &r.Event.Branch, &r.Event.Base, &r.Event.SHA,
			&lineRate, &report, &uploaded,
			&sid, &sname, &s.Start, &s.End, &ssuccess, &slog)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return r, err
		}

		if lineRate.Valid {
			r.Coverage = &Coverage{
				LineRate:   lineRate.Float64,
				ReportPath: report.String,
				Uploaded:   uploaded.Bool,
			}
		}

		if sid.Valid {
			s.ID = int(sid.Int64)
			s.Name = sname.String
			s.Log = slog.String
			if ssuccess.Valid {
				s.MarkSuccess(ssuccess.Bool)
			}

			r.Steps = append(r.Steps, s)
		}
	}

	if !found {
		return r, ErrRunNotFound
	}

	return r, nil
}

// GetStep returns the step with the given ID, as long as the owning
// workflow's project is visible to the user. If the Step isn't found
// it returns ErrStepNotFound. Step logs are the most sensitive thing
// in the store, so the visibility check can't be skipped here.
func (st *Postgres) GetStep(user string, id int) (Step, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting step from postgres")

	sqlq := `
	SELECT s.name, s.start_time, s.end_time, s.success, s.log, s.workflow_id, s.run_count
	FROM steps AS s
	INNER JOIN workflows AS w
	ON s.workflow_id = w.id
	INNER JOIN projects AS proj
	ON w.project_id = proj.id
	INNER JOIN users AS u
	ON proj.user_email = u.email
	WHERE (u.email = $2 OR u.group_name = proj.group_name)
		AND s.id = $1
	`

	s := Step{ID: id}
	err := st.db.QueryRow(sqlq, id, user).Scan(&s.Name, &s.Start, &s.End,
		&s.Success, &s.Log, &s.WorkflowID, &s.RunCount)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return s, ErrStepNotFound
		}
	}

	return s, err
}

// CreateGroup creates the passed in group in the database.
func (st *Postgres) CreateGroup(g *Group) error {
	logger := logger.WithField("name", g.Name)
	logger.Debug("saving group")

	sqlq := `
	INSERT INTO groups (name)
	VALUES
		($1)
	`

	_, err := st.db.Exec(sqlq, g.Name)
	return err
}

// CreateUser creates the passed in user in the database.
func (st *Postgres) CreateUser(u *User) error {
	logger := logger.WithField("email", u.Email)
	logger.Debug("saving user")

	if u.Group.Name == "" {
		logger.Debugf("got user with no group, setting to %v", DefaultGroup.Name)
		u.Group = DefaultGroup
	}

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	sqlq := `
	INSERT INTO users (email, name, password, group_name)
	VALUES
		($1, $2, $3, $4)
	`

	_, err = st.db.Exec(sqlq, u.Email, u.Name, password, u.Group.Name)
	return err
}

// Authenticate checks the password for the user with the given email address.
func (st *Postgres) Authenticate(email, pass string) error {
	logger := logger.WithField("email", email)
	logger.Debug("authenticating user")

	sqlq := `
	SELECT password
	FROM users
	WHERE users.email = $1
	`

	cryptpass := []byte{}
	err := st.db.QueryRow(sqlq, email).Scan(&cryptpass)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return ErrNotAuthenticated
		}
	}

	err = bcrypt.CompareHashAndPassword(cryptpass, []byte(pass))
	if err != nil {
		logger.WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}
