package secret

import (
	"strings"
	"testing"
)

func TestInterpolate(t *testing.T) {
	provider := Static{
		"CODECOV_TOKEN": "tok-123456",
		"OTHER":         "hunter2",
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain value untouched",
			input:    "coverage.xml",
			expected: "coverage.xml",
		},
		{
			name:     "single reference",
			input:    "${{ secrets.CODECOV_TOKEN }}",
			expected: "tok-123456",
		},
		{
			name:     "reference without spaces",
			input:    "${{secrets.CODECOV_TOKEN}}",
			expected: "tok-123456",
		},
		{
			name:     "reference inside a value",
			input:    "Bearer ${{ secrets.OTHER }}",
			expected: "Bearer hunter2",
		},
	}

	for _, test := range tests {
		got, err := Interpolate(test.input, provider, nil)
		if err != nil {
			t.Fatalf("%v: got error: %v", test.name, err)
		}

		if got != test.expected {
			t.Fatalf("%v: expected %q, got %q", test.name, test.expected, got)
		}
	}
}

func TestInterpolateMissing(t *testing.T) {
	_, err := Interpolate("${{ secrets.NOPE }}", Static{}, nil)
	if err == nil {
		t.Fatal("expected error for missing secret, got none")
	}
}

func TestInterpolateRegistersMask(t *testing.T) {
	provider := Static{"CODECOV_TOKEN": "tok-123456"}
	mask := &Masker{}

	if _, err := Interpolate("${{ secrets.CODECOV_TOKEN }}", provider, mask); err != nil {
		t.Fatalf("got error: %v", err)
	}

	var sb strings.Builder
	w := mask.Wrap(&sb)
	w.Write([]byte("uploading with token tok-123456\n"))
	w.Close()

	if strings.Contains(sb.String(), "tok-123456") {
		t.Fatalf("secret leaked into output: %q", sb.String())
	}
}

func TestInterpolateMap(t *testing.T) {
	provider := Static{"CODECOV_TOKEN": "tok-123456"}

	params := map[string]string{
		"file":  "coverage.xml",
		"token": "${{ secrets.CODECOV_TOKEN }}",
	}

	got, err := InterpolateMap(params, provider, nil)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}

	if got["file"] != "coverage.xml" || got["token"] != "tok-123456" {
		t.Fatalf("unexpected interpolated map: %+v", got)
	}

	// The original map must stay untouched.
	if params["token"] != "${{ secrets.CODECOV_TOKEN }}" {
		t.Fatalf("input map was modified: %q", params["token"])
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("COVEY_SECRET_CODECOV_TOKEN", "tok-env")

	provider := EnvProvider{Prefix: "COVEY_SECRET_"}

	val, err := provider.Get("CODECOV_TOKEN")
	if err != nil {
		t.Fatalf("got error: %v", err)
	}

	if val != "tok-env" {
		t.Fatalf("expected %q, got %q", "tok-env", val)
	}

	if _, err := provider.Get("MISSING"); err == nil {
		t.Fatal("expected error for unset secret, got none")
	}
}
