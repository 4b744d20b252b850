package config

import (
	"os"
	"path/filepath"
	"strings"
)

const configFileName = "config.yaml"

// configCandidate is a file Load may read, labelled with where it came from.
type configCandidate struct {
	path   string
	source string
}

// configCandidates lists the files Load tries in order; the first one that
// exists is applied. An explicit path, from WithConfigPath or
// HERALD_CONFIG_PATH, is the only candidate so a typo never silently falls
// back to another file.
func configCandidates(explicit string, lookup EnvLookup, homeDir func() (string, error)) []configCandidate {
	if path := strings.TrimSpace(explicit); path != "" {
		return []configCandidate{{path: path, source: "flag"}}
	}
	if value, ok := lookup("HERALD_CONFIG_PATH"); ok {
		if path := strings.TrimSpace(value); path != "" {
			return []configCandidate{{path: path, source: "HERALD_CONFIG_PATH"}}
		}
	}

	candidates := []configCandidate{{path: filepath.Join("configs", configFileName), source: "project"}}
	if homeDir != nil {
		if home, err := homeDir(); err == nil && strings.TrimSpace(home) != "" {
			candidates = append(candidates, configCandidate{
				path:   filepath.Join(home, ".herald", configFileName),
				source: "home",
			})
		}
	}
	return candidates
}

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
