// Package config is the minimal typed configuration surface sufficient to
// construct RBOP and POFP. It is deliberately not a general config-file
// framework: one YAML document, one flat struct, one Validate method.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to wire a gitvfsd process.
type Config struct {
	// RBOP
	DataDir          string        `yaml:"dataDir"`
	GitLockPath      string        `yaml:"gitLockPath"`
	DurableStorePath string        `yaml:"durableStorePath"`
	JournalPath      string        `yaml:"journalPath"`
	HolderIdentity   string        `yaml:"holderIdentity"`

	// POFP
	ObjectServerURL    string        `yaml:"objectServerURL"`
	ObjectsDir         string        `yaml:"objectsDir"`
	PackDir            string        `yaml:"packDir"`
	TempDir            string        `yaml:"tempDir"`
	ChunkSize          int           `yaml:"chunkSize"`
	FetchWorkers       int           `yaml:"fetchWorkers"`
	IndexWorkers       int           `yaml:"indexWorkers"`
	CommitDepth        int           `yaml:"commitDepth"`
	PreferBatchedLoose bool          `yaml:"preferBatchedLoose"`
	HTTPMaxAttempts    int           `yaml:"httpMaxAttempts"`
	HTTPBackoffBase    float64       `yaml:"httpBackoffBase"`
	HTTPDialTimeout    time.Duration `yaml:"httpDialTimeout"`

	// Metrics
	MetricsListenAddr string `yaml:"metricsListenAddr"`
}

// Default returns a Config with every field except ObjectServerURL set to
// a workable default, scoped under root (typically the enlistment's
// dot-directory). ObjectServerURL is left empty, so the result does not
// pass Validate until it is set.
func Default(root string) Config {
	return Config{
		DataDir:            root,
		GitLockPath:        root + "/.gitlock",
		DurableStorePath:   root + "/rbop-store",
		JournalPath:        root + "/rbop-journal.log",
		HolderIdentity:     "gitvfsd",
		ObjectsDir:         root + "/objects",
		PackDir:            root + "/objects/pack",
		TempDir:            root + "/objects/tmp",
		ChunkSize:          32,
		FetchWorkers:       8,
		IndexWorkers:       2,
		CommitDepth:        1,
		PreferBatchedLoose: true,
		HTTPMaxAttempts:    5,
		HTTPBackoffBase:    2,
		HTTPDialTimeout:    10 * time.Second,
		MetricsListenAddr:  ":9400",
	}
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that cfg is complete enough to construct RBOP and POFP.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.ObjectServerURL == "" {
		return fmt.Errorf("objectServerURL is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be > 0")
	}
	if c.FetchWorkers <= 0 {
		return fmt.Errorf("fetchWorkers must be > 0")
	}
	if c.IndexWorkers <= 0 {
		return fmt.Errorf("indexWorkers must be > 0")
	}
	if c.HTTPMaxAttempts <= 0 {
		return fmt.Errorf("httpMaxAttempts must be > 0")
	}
	return nil
}
