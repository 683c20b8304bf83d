// Package configuration provides the daemon's own YAML knob file. This is
// not a user-facing configuration surface; it is the handful of operational
// parameters a daemon installation may need to pin.
package configuration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/grivet-io/grivet/pkg/filesystem"
)

const (
	// FileName is the name of the daemon configuration file within the
	// gitdir.
	FileName = "grivet-daemon.yaml"
)

// Configuration is the daemon configuration object.
type Configuration struct {
	// Daemon holds watcher daemon parameters.
	Daemon struct {
		// Workers is the IPC worker pool size. Zero selects the default.
		Workers int `yaml:"workers"`
		// LogLevel is the daemon log level name. Empty selects "info".
		LogLevel string `yaml:"logLevel"`
	} `yaml:"daemon"`
	// Objects holds object database parameters.
	Objects struct {
		// Fsync synchronizes loose object writes to stable storage.
		Fsync bool `yaml:"fsync"`
		// DeltaCacheBudget is the delta-base cache byte budget. Zero
		// selects the default.
		DeltaCacheBudget int64 `yaml:"deltaCacheBudget"`
		// StreamThreshold is the payload size above which blob reads
		// should stream. Zero selects the default.
		StreamThreshold int64 `yaml:"streamThreshold"`
	} `yaml:"objects"`
}

// Load attempts to load a configuration file from the specified path. A
// missing file is not an error: it yields a zero-valued (all-defaults)
// configuration.
func Load(path string) (*Configuration, error) {
	result := &Configuration{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("unable to load configuration file: %w", err)
	}
	if err := yaml.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("unable to parse configuration file: %w", err)
	}
	return result, nil
}

// Save writes a configuration file atomically, so a daemon re-reading its
// knobs can never observe a partially written file.
func (c *Configuration) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("unable to marshal configuration: %w", err)
	}
	if err := filesystem.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("unable to write configuration file: %w", err)
	}
	return nil
}
