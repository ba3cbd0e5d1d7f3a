package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/covey-ci/covey/store"
	"github.com/covey-ci/covey/workflow"

	yaml "gopkg.in/yaml.v2"
)

func usage() {
	fmt.Println("usage: seed-db $POSTGRES_CONNECTION_STRING $DATA_YAML_PATH")
}

func main() {
	connstr, path, err := parseArgs(os.Args)
	if err != nil {
		fmt.Println(err)
		usage()
		os.Exit(1)
	}

	fmt.Printf("seeding %v with data from %v\n", connstr, path)

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("got error reading path: %v\n", err)
		os.Exit(1)
	}

	buf, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("got error reading file: %v\n", err)
		os.Exit(1)
	}

	var d data
	err = yaml.Unmarshal(buf, &d)
	if err != nil {
		fmt.Printf("got error loading YAML: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewPostgres(connstr)
	if err != nil {
		fmt.Printf("got error connecting to postgres: %v\n", err)
		os.Exit(1)
	}

	for _, g := range d.Groups {
		group := store.Group{Name: g.Name}
		if err := st.CreateGroup(&group); err != nil {
			fmt.Printf("got error creating group %v: %v\n", g.Name, err)
			os.Exit(1)
		}
	}

	for _, u := range d.Users {
		user := store.User{
			Name:     u.Name,
			Email:    u.Email,
			Password: u.Password,
			Group:    store.Group{Name: u.Group},
		}

		if err := st.CreateUser(&user); err != nil {
			fmt.Printf("got error creating user %v: %v\n", u.Email, err)
			os.Exit(1)
		}
	}

	for _, p := range d.Projects {
		proj := store.Project{
			Name:        p.Name,
			Description: p.Description,
			User:        store.User{Email: p.User},
			Group:       store.Group{Name: p.Group},
		}

		if err := st.CreateProject(&proj); err != nil {
			fmt.Printf("got error creating project %v: %v\n", p.Name, err)
			os.Exit(1)
		}

		for _, r := range p.Remotes {
			remote := store.GitRemote{
				URL:       r.URL,
				Branch:    r.Branch,
				ProjectID: proj.ID,
			}

			if err := st.CreateGitRemote(p.User, &remote); err != nil {
				fmt.Printf("got error creating remote %v: %v\n", r.URL, err)
				os.Exit(1)
			}

			for _, w := range r.Workflows {
				wf := store.Workflow{
					Name:      w.Name,
					Path:      w.Path,
					ProjectID: proj.ID,
					GitRemote: remote,
					On:        w.On,
				}

				if err := st.CreateWorkflow(p.User, &wf); err != nil {
					fmt.Printf("got error creating workflow %v: %v\n", w.Name, err)
					os.Exit(1)
				}
			}
		}
	}

	fmt.Println("done")
}

// parseArgs pulls the connection string and data file path out of the
// program arguments. This tool writes straight to the database, so
// anything other than exactly those two arguments is rejected.
func parseArgs(args []string) (connstr, path string, err error) {
	if len(args) != 3 || args[1] == "" || args[2] == "" {
		return "", "", errors.New("expected a connection string and a data file path")
	}

	return args[1], args[2], nil
}

type data struct {
	Groups   []seedGroup   `yaml:"groups"`
	Users    []seedUser    `yaml:"users"`
	Projects []seedProject `yaml:"projects"`
}

type seedGroup struct {
	Name string `yaml:"name"`
}

type seedUser struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Group    string `yaml:"group"`
}

type seedProject struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	User        string       `yaml:"user"`
	Group       string       `yaml:"group"`
	Remotes     []seedRemote `yaml:"remotes"`
}

type seedRemote struct {
	URL       string         `yaml:"url"`
	Branch    string         `yaml:"branch"`
	Workflows []seedWorkflow `yaml:"workflows"`
}

type seedWorkflow struct {
	Name string            `yaml:"name"`
	Path string            `yaml:"path"`
	On   workflow.Triggers `yaml:"on"`
}
