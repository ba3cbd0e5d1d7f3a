package secret

import (
	"strings"
	"testing"
)

func TestMaskerRedacts(t *testing.T) {
	mask := &Masker{}
	mask.Add("tok-123456")

	var sb strings.Builder
	w := mask.Wrap(&sb)

	w.Write([]byte("auth header: Bearer tok-123456\n"))
	w.Write([]byte("all done\n"))
	w.Close()

	out := sb.String()
	if strings.Contains(out, "tok-123456") {
		t.Fatalf("secret leaked: %q", out)
	}

	if !strings.Contains(out, "Bearer ***") {
		t.Fatalf("expected redaction marker, got %q", out)
	}

	if !strings.Contains(out, "all done") {
		t.Fatalf("non-secret output mangled: %q", out)
	}
}

func TestMaskerSplitWrites(t *testing.T) {
	mask := &Masker{}
	mask.Add("tok-123456")

	var sb strings.Builder
	w := mask.Wrap(&sb)

	// The secret arrives split across two writes on the same line.
	w.Write([]byte("token is tok-12"))
	w.Write([]byte("3456 ok\n"))
	w.Close()

	if strings.Contains(sb.String(), "tok-123456") {
		t.Fatalf("secret leaked across split writes: %q", sb.String())
	}
}

func TestMaskerFlushOnClose(t *testing.T) {
	mask := &Masker{}
	mask.Add("hunter2")

	var sb strings.Builder
	w := mask.Wrap(&sb)

	// No trailing newline: only Close should flush this.
	w.Write([]byte("password=hunter2"))

	if sb.Len() != 0 {
		t.Fatalf("unterminated line flushed early: %q", sb.String())
	}

	w.Close()

	if sb.String() != "password=***" {
		t.Fatalf("expected %q, got %q", "password=***", sb.String())
	}
}

func TestMaskerEmptyAndDuplicate(t *testing.T) {
	mask := &Masker{}
	mask.Add("")
	mask.Add("dup")
	mask.Add("dup")

	if len(mask.secrets) != 1 {
		t.Fatalf("expected 1 registered secret, got %v", len(mask.secrets))
	}

	var sb strings.Builder
	w := mask.Wrap(&sb)
	w.Write([]byte("plain text\n"))
	w.Close()

	if sb.String() != "plain text\n" {
		t.Fatalf("empty secret mangled output: %q", sb.String())
	}
}
