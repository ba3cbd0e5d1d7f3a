package runner

import (
	"archive/tar"
	"bytes"
	"os"
	"testing"
)

func TestWriteArchivedFile(t *testing.T) {
	report := `<?xml version="1.0" ?>
<coverage line-rate="0.87"></coverage>`

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := tw.WriteHeader(&tar.Header{
		Name:     "coverage.xml",
		Mode:     0644,
		Size:     int64(len(report)),
		Typeflag: tar.TypeReg,
	})
	if err != nil {
		t.Fatalf("got error writing tar header: %v", err)
	}

	if _, err := tw.Write([]byte(report)); err != nil {
		t.Fatalf("got error writing tar body: %v", err)
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("got error closing tar writer: %v", err)
	}

	path, err := writeArchivedFile(&buf)
	if err != nil {
		t.Fatalf("got error extracting archive: %v", err)
	}
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("got error reading extracted file: %v", err)
	}

	// The extracted bytes must be exactly the archived file, with
	// nothing mixed in around them.
	if string(got) != report {
		t.Fatalf("extracted file doesn't match archive contents: %q", got)
	}
}

func TestWriteArchivedFileEmpty(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.Close(); err != nil {
		t.Fatalf("got error closing tar writer: %v", err)
	}

	if _, err := writeArchivedFile(&buf); err == nil {
		t.Fatal("expected error for empty archive, got none")
	}
}
