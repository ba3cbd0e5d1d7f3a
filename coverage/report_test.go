package coverage

import (
	"strings"
	"testing"
)

var testreport = []byte(`<?xml version="1.0" ?>
<coverage line-rate="0.8725" branch-rate="0.75" version="7.3.2" timestamp="1716215684">
	<packages>
		<package name="symbolic_pofk" line-rate="0.91" branch-rate="0.8"/>
		<package name="symbolic_pofk.linear_plus" line-rate="0.83" branch-rate="0.7"/>
	</packages>
</coverage>
`)

func TestParse(t *testing.T) {
	r, err := Parse(testreport)
	if err != nil {
		t.Fatalf("got error parsing report: %v", err)
	}

	if r.LineRate != 0.8725 {
		t.Fatalf("expected line rate 0.8725, got %v", r.LineRate)
	}

	if len(r.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %v", len(r.Packages))
	}

	if r.Packages[1].Name != "symbolic_pofk.linear_plus" {
		t.Fatalf("unexpected package name %q", r.Packages[1].Name)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("not xml at all")); err == nil {
		t.Fatal("expected parse error, got none")
	}
}

func TestSummary(t *testing.T) {
	r, err := Parse(testreport)
	if err != nil {
		t.Fatalf("got error parsing report: %v", err)
	}

	summary := r.Summary()

	for _, expected := range []string{"symbolic_pofk\t91.0%", "symbolic_pofk.linear_plus\t83.0%", "total\t87.2%"} {
		if !strings.Contains(summary, expected) {
			t.Fatalf("expected summary to contain %q, got:\n%v", expected, summary)
		}
	}
}
