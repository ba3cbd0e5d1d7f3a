package secret

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "secret",
	})
}

// Provider resolves named secrets. The resolved values are injected into
// step parameters at execution time and must never be written to logs.
type Provider interface {
	Get(name string) (string, error)
}

// EnvProvider resolves secrets from environment variables named
// "<prefix><NAME>".
type EnvProvider struct {
	Prefix string
}

// Get looks the secret up in the process environment.
func (p EnvProvider) Get(name string) (string, error) {
	val, ok := os.LookupEnv(p.Prefix + name)
	if !ok {
		return "", fmt.Errorf("secret %q not set", name)
	}

	return val, nil
}

// Static is a fixed map of secrets, mostly useful in tests and dev
// seeding.
type Static map[string]string

// Get looks the secret up in the map.
func (p Static) Get(name string) (string, error) {
	val, ok := p[name]
	if !ok {
		return "", fmt.Errorf("secret %q not set", name)
	}

	return val, nil
}

var refpattern = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z0-9_]+)\s*\}\}`)

// Interpolate replaces every "${{ secrets.NAME }}" reference in raw with
// the value resolved from the provider. Every resolved value is also
// registered with the masker so it can never show up in step logs. An
// unresolvable reference is an error: running a step with a missing
// credential silently would only fail later in a more confusing way.
func Interpolate(raw string, from Provider, mask *Masker) (string, error) {
	refs := refpattern.FindAllStringSubmatch(raw, -1)
	if len(refs) == 0 {
		return raw, nil
	}

	out := raw
	for _, ref := range refs {
		name := ref[1]

		logger.WithField("secret", name).Debug("resolving secret reference")

		val, err := from.Get(name)
		if err != nil {
			return "", err
		}

		if mask != nil {
			mask.Add(val)
		}

		out = strings.ReplaceAll(out, ref[0], val)
	}

	return out, nil
}

// InterpolateMap interpolates every value of params, returning a copy.
// The input map is never modified: it usually aliases the parsed
// workflow definition.
func InterpolateMap(params map[string]string, from Provider, mask *Masker) (map[string]string, error) {
	if params == nil {
		return nil, nil
	}

	out := make(map[string]string, len(params))
	for k, v := range params {
		resolved, err := Interpolate(v, from, mask)
		if err != nil {
			return nil, err
		}

		out[k] = resolved
	}

	return out, nil
}
