package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/loganmanery/filevault/internal/crypto"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DefaultPath is where the CLI looks for its configuration
const DefaultPath = "config.yaml"

type Config struct {
	App      AppConfig      `yaml:"app"`
	Path     PathConfig     `yaml:"path"`
	Security SecurityConfig `yaml:"security"`
	Log      LogConfig      `yaml:"log"`
}

type AppConfig struct {
	Name string `yaml:"name"`
}

type PathConfig struct {
	DBFile   string `yaml:"db_file"`
	Upload   string `yaml:"upload"`
	Download string `yaml:"download"`
}

type SecurityConfig struct {
	DefaultAlgorithm string     `yaml:"default_algorithm"`
	Algorithms       []string   `yaml:"algorithms"`
	Hash             HashConfig `yaml:"hash"`
}

// HashConfig is the Argon2id work factor of verification hashes
type HashConfig struct {
	Time    uint32 `yaml:"time"`
	Memory  uint32 `yaml:"memory"`
	Threads uint8  `yaml:"threads"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and validates the YAML file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "filevault"
	}

	if len(c.Security.Algorithms) == 0 {
		for _, alg := range crypto.Algorithms {
			c.Security.Algorithms = append(c.Security.Algorithms, alg.String())
		}
	}

	if c.Security.DefaultAlgorithm == "" {
		c.Security.DefaultAlgorithm = crypto.AES.String()
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks algorithm names and required paths
func (c *Config) Validate() error {
	enabled, err := c.EnabledAlgorithms()
	if err != nil {
		return err
	}

	def, err := crypto.ParseAlgorithm(c.Security.DefaultAlgorithm)
	if err != nil {
		return fmt.Errorf("invalid default algorithm: %w", err)
	}
	found := false
	for _, alg := range enabled {
		if alg == def {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default algorithm %s is not in the enabled algorithms %v", def, c.Security.Algorithms)
	}

	required := map[string]string{
		"path.db_file":  c.Path.DBFile,
		"path.upload":   c.Path.Upload,
		"path.download": c.Path.Download,
	}
	for _, key := range []string{"path.db_file", "path.upload", "path.download"} {
		if required[key] == "" {
			return fmt.Errorf("missing required config value: %s", key)
		}
	}

	if c.Security.Hash.Memory > crypto.MaxHashMemory {
		return fmt.Errorf("security.hash.memory %d exceeds %d KiB", c.Security.Hash.Memory, crypto.MaxHashMemory)
	}
	if c.Security.Hash.Time > crypto.MaxHashTime {
		return fmt.Errorf("security.hash.time %d exceeds %d", c.Security.Hash.Time, crypto.MaxHashTime)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}

// EnabledAlgorithms parses security.algorithms
func (c *Config) EnabledAlgorithms() ([]crypto.Algorithm, error) {
	if len(c.Security.Algorithms) == 0 {
		return nil, errors.New("no encryption algorithms enabled")
	}

	algs := make([]crypto.Algorithm, 0, len(c.Security.Algorithms))
	for _, name := range c.Security.Algorithms {
		alg, err := crypto.ParseAlgorithm(name)
		if err != nil {
			return nil, fmt.Errorf("invalid algorithm in config: %w", err)
		}
		algs = append(algs, alg)
	}
	return algs, nil
}

// DefaultAlgorithm returns the parsed security.default_algorithm
func (c *Config) DefaultAlgorithm() crypto.Algorithm {
	alg, err := crypto.ParseAlgorithm(c.Security.DefaultAlgorithm)
	if err != nil {
		return crypto.AES
	}
	return alg
}

// HashParams converts the hash section; zero values mean library defaults
func (c *Config) HashParams() crypto.HashParams {
	return crypto.HashParams{
		Time:    c.Security.Hash.Time,
		Memory:  c.Security.Hash.Memory,
		Threads: c.Security.Hash.Threads,
	}
}

// NewLogger builds the logger configured by the log section
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}
