// Package runtimeconfig loads the optional <home>/config.json file the CLI
// overlays on top of its own flag defaults. Unlike the teacher's TOML
// hypervisor/agent config (katautils.LoadConfiguration), this file is a
// flat JSON document with a handful of fields; a missing file is not an
// error and a malformed one only produces a warning, never a fatal exit.
package runtimeconfig

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
)

// Config is the subset of CLI defaults a home directory can override. The
// CLI applies Registries (when no --registry flag is given) and ShimPath;
// SecurityPreset is parsed but not applied by the CLI.
type Config struct {
	Registries     []string `json:"registries,omitempty"`
	SecurityPreset string   `json:"security_preset,omitempty"`
	ShimPath       string   `json:"shim_path,omitempty"`
}

// Load reads <home>/config.json. A missing file yields a zero Config and
// no warning; a present-but-malformed file logs a warning and also yields
// a zero Config, per §6.2 ("parse errors logged as warnings — never
// fatal"). Unknown fields are ignored.
func Load(path string, logger *logrus.Entry) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		if logger != nil {
			logger.WithError(err).WithField("path", path).Warn("ignoring malformed config file")
		}
		return Config{}
	}
	return cfg
}
