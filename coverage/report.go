package coverage

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "coverage",
	})
}

// Report is a Cobertura-style coverage report. Only the attributes the
// pipeline acts on are decoded; the raw XML is what gets uploaded.
type Report struct {
	XMLName    xml.Name  `xml:"coverage"`
	LineRate   float64   `xml:"line-rate,attr"`
	BranchRate float64   `xml:"branch-rate,attr"`
	Packages   []Package `xml:"packages>package"`
}

// Package is the per-package coverage breakdown inside a report.
type Package struct {
	Name     string  `xml:"name,attr"`
	LineRate float64 `xml:"line-rate,attr"`
}

// Parse decodes a coverage report.
func Parse(buf []byte) (*Report, error) {
	var r Report
	if err := xml.Unmarshal(buf, &r); err != nil {
		return nil, err
	}

	return &r, nil
}

// ParseFile reads and decodes the coverage report at path.
func ParseFile(path string) (*Report, error) {
	logger := logger.WithField("path", path)
	logger.Debug("reading coverage report")

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(buf)
}

// Summary renders the report for a run log, one line per package plus
// the total.
func (r *Report) Summary() string {
	var sb strings.Builder

	for _, pkg := range r.Packages {
		fmt.Fprintf(&sb, "%v\t%.1f%%\n", pkg.Name, pkg.LineRate*100)
	}

	fmt.Fprintf(&sb, "total\t%.1f%%\n", r.LineRate*100)

	return sb.String()
}
