package workflow

import "testing"

var testdef = []byte(`
name: tests
on:
  push:
    branches: [main, 7-add-unit-tests]
  pull_request:
    branches: [main]
permissions:
  contents: read
jobs:
  build:
    runs-on: python:3.11
    steps:
      - name: Checkout
        uses: checkout@v1
      - name: Set up Python
        uses: setup-runtime@v1
        with:
          runtime: python
          version: "3.11"
      - name: Install dependencies
        run: |
          python -m pip install --upgrade pip
          pip install flake8 pytest
      - name: Run tests
        run: pytest tests/test_linear_plus.py --cov=symbolic_pofk --cov-report=xml
      - name: Upload coverage
        uses: coverage-upload@v1
        continue-on-error: true
        with:
          file: coverage.xml
          token: ${{ secrets.CODECOV_TOKEN }}
  report:
    steps:
      - name: Summary
        run: echo done
`)

func TestParse(t *testing.T) {
	wf, err := Parse(testdef)
	if err != nil {
		t.Fatalf("got error parsing workflow: %v", err)
	}

	if wf.Name != "tests" {
		t.Fatalf("expected workflow name %q, got %q", "tests", wf.Name)
	}

	if wf.Permissions["contents"] != "read" {
		t.Fatalf("expected contents permission %q, got %q", "read", wf.Permissions["contents"])
	}

	if wf.On.Push == nil || len(wf.On.Push.Branches) != 2 {
		t.Fatalf("expected 2 push branches, got %+v", wf.On.Push)
	}

	if wf.On.PullRequest == nil || wf.On.PullRequest.Branches[0] != "main" {
		t.Fatalf("expected pull_request branch main, got %+v", wf.On.PullRequest)
	}
}

func TestParseJobOrder(t *testing.T) {
	wf, err := Parse(testdef)
	if err != nil {
		t.Fatalf("got error parsing workflow: %v", err)
	}

	if len(wf.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %v", len(wf.Jobs))
	}

	if wf.Jobs[0].ID != "build" || wf.Jobs[1].ID != "report" {
		t.Fatalf("jobs out of declaration order: %v, %v", wf.Jobs[0].ID, wf.Jobs[1].ID)
	}

	if wf.Jobs[0].RunsOn != "python:3.11" {
		t.Fatalf("expected runs-on python:3.11, got %q", wf.Jobs[0].RunsOn)
	}

	steps := wf.Jobs[0].Steps
	if len(steps) != 5 {
		t.Fatalf("expected 5 steps, got %v", len(steps))
	}

	expected := []string{"Checkout", "Set up Python", "Install dependencies", "Run tests", "Upload coverage"}
	for i, name := range expected {
		if steps[i].Name != name {
			t.Fatalf("expected step %v to be %q, got %q", i, name, steps[i].Name)
		}
	}

	if !steps[4].ContinueOnError {
		t.Fatal("expected upload step to have continue-on-error set")
	}

	if steps[4].With["token"] != "${{ secrets.CODECOV_TOKEN }}" {
		t.Fatalf("expected raw secret reference in step params, got %q", steps[4].With["token"])
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name: "no triggers",
			input: `
name: broken
jobs:
  build:
    steps:
      - run: echo hi
`,
		},
		{
			name: "no jobs",
			input: `
name: broken
on:
  push:
    branches: [main]
`,
		},
		{
			name: "step with uses and run",
			input: `
name: broken
on:
  push:
    branches: [main]
jobs:
  build:
    steps:
      - uses: checkout@v1
        run: echo hi
`,
		},
		{
			name: "empty step",
			input: `
name: broken
on:
  push:
    branches: [main]
jobs:
  build:
    steps:
      - name: nothing
`,
		},
		{
			name: "bad permission level",
			input: `
name: broken
on:
  push:
    branches: [main]
permissions:
  contents: admin
jobs:
  build:
    steps:
      - run: echo hi
`,
		},
	}

	for _, test := range tests {
		if _, err := Parse([]byte(test.input)); err == nil {
			t.Fatalf("%v: expected parse error, got none", test.name)
		}
	}
}

func TestStepDisplayName(t *testing.T) {
	tests := []struct {
		step     Step
		expected string
	}{
		{Step{Name: "Run tests", Run: "pytest"}, "Run tests"},
		{Step{Uses: "checkout@v1"}, "checkout@v1"},
		{Step{Run: "make test"}, "make test"},
	}

	for _, test := range tests {
		if got := test.step.DisplayName(); got != test.expected {
			t.Fatalf("expected display name %q, got %q", test.expected, got)
		}
	}
}
