package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	domainconfig "github.com/felixgeelhaar/roundtable/domain/config"
)

// envPattern matches ${VAR}, ${VAR:-default}, ${VAR:?message} and $VAR.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

type envExpander struct {
	strict bool
	lookup func(string) (string, bool) // os.LookupEnv when nil
}

// Expand substitutes variable references. ${VAR:-x} falls back to x when
// VAR is unset or empty; ${VAR:?msg} reports msg in that case. Every
// missing variable is reported in one error.
func (e *envExpander) Expand(input string) (string, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var missing []string
	result := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		name, op, arg := m[1], m[2], m[3]
		if name == "" {
			name = m[4]
		}

		value, ok := lookup(name)
		switch op {
		case "-":
			if !ok || value == "" {
				return arg
			}
		case "?":
			if !ok || value == "" {
				missing = append(missing, fmt.Sprintf("%s: %s", name, arg))
				return match
			}
		default:
			if !ok && e.strict {
				missing = append(missing, name)
			}
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", domainconfig.ErrMissingEnvVar, strings.Join(missing, ", "))
	}
	return result, nil
}
