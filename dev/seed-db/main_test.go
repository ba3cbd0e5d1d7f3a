package main

import "testing"

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		connstr string
		path    string
		errors  bool
	}{
		{
			name:    "both arguments",
			args:    []string{"seed-db", "postgres://covey@localhost/covey", "dev/seed-data.yml"},
			connstr: "postgres://covey@localhost/covey",
			path:    "dev/seed-data.yml",
		},
		{
			name:   "missing path",
			args:   []string{"seed-db", "postgres://covey@localhost/covey"},
			errors: true,
		},
		{
			name:   "no arguments",
			args:   []string{"seed-db"},
			errors: true,
		},
		{
			name:   "empty connection string",
			args:   []string{"seed-db", "", "dev/seed-data.yml"},
			errors: true,
		},
		{
			name:   "extra arguments",
			args:   []string{"seed-db", "--", "postgres://covey@localhost/covey", "dev/seed-data.yml"},
			errors: true,
		},
	}

	for _, test := range tests {
		connstr, path, err := parseArgs(test.args)

		if test.errors {
			if err == nil {
				t.Fatalf("%v: expected error, got none", test.name)
			}
			continue
		}

		if err != nil {
			t.Fatalf("%v: got error: %v", test.name, err)
		}

		if connstr != test.connstr || path != test.path {
			t.Fatalf("%v: expected %q %q, got %q %q",
				test.name, test.connstr, test.path, connstr, path)
		}
	}
}
