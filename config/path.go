package config

import "os"

// PathEnv names the environment variable holding the config file path.
const PathEnv = "LEDGER_CONFIG_PATH"

var candidates = []string{
	"./config.yaml",
	"./config.yml",
	"/etc/tour-ledger/config.yaml",
	"/app/config.yaml",
}

// DeterminePath picks the config file: the -config flag value, then
// LEDGER_CONFIG_PATH, then the first candidate that exists. It returns ""
// when none is found, which Load treats as defaults only.
func DeterminePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
