package secret

import (
	"bytes"
	"io"
	"sync"
)

// Redacted is what secret values are replaced with in step logs.
const Redacted = "***"

// Masker holds the secret values resolved during a run. Wrapped writers
// replace every occurrence of a registered value with Redacted. One
// Masker is shared by all steps of a run, so a secret resolved by an
// early step stays masked in the logs of later ones.
type Masker struct {
	mu      sync.Mutex
	secrets [][]byte
}

// Add registers a value to be masked. Empty values are ignored since
// replacing the empty string would mangle all output.
func (m *Masker) Add(val string) {
	if val == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.secrets {
		if string(s) == val {
			return
		}
	}

	m.secrets = append(m.secrets, []byte(val))
}

// Wrap returns a writer that redacts registered secrets before handing
// the output to w. Output is buffered line by line so a secret can't
// slip through split across two writes; callers must Close the writer
// to flush a trailing unterminated line.
func (m *Masker) Wrap(w io.Writer) io.WriteCloser {
	return &maskWriter{masker: m, out: w}
}

type maskWriter struct {
	masker *Masker
	out    io.Writer
	buf    bytes.Buffer
}

func (w *maskWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)

	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}

		line := make([]byte, idx+1)
		copy(line, w.buf.Next(idx+1))

		if _, err := w.out.Write(w.masker.redact(line)); err != nil {
			return len(p), err
		}
	}

	return len(p), nil
}

// Close flushes whatever is left in the line buffer.
func (w *maskWriter) Close() error {
	if w.buf.Len() == 0 {
		return nil
	}

	_, err := w.out.Write(w.masker.redact(w.buf.Bytes()))
	w.buf.Reset()
	return err
}

func (m *Masker) redact(line []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.secrets {
		line = bytes.ReplaceAll(line, s, []byte(Redacted))
	}

	return line
}
