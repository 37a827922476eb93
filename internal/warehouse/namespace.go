package warehouse

import (
	"fmt"
	"regexp"
)

// Env separates production data from test runs of the same source.
type Env string

// Supported environments.
const (
	EnvProduction Env = "production"
	EnvTest       Env = "test"
)

var validSourceName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Namespace addresses every store that belongs to one source in one environment.
type Namespace struct {
	Source string
	Env    Env
}

// Validate ensures the namespace is safe to use as a file name or schema identifier.
func (n Namespace) Validate() error {
	if !validSourceName.MatchString(n.Source) {
		return fmt.Errorf("invalid source name %q", n.Source)
	}
	switch n.Env {
	case EnvProduction, EnvTest:
		return nil
	default:
		return fmt.Errorf("invalid env %q", n.Env)
	}
}

// Schema returns the identifier used for schema-scoped backends.
func (n Namespace) Schema() string {
	return n.Source + "_" + string(n.Env)
}

func (n Namespace) String() string {
	return n.Source + "/" + string(n.Env)
}
