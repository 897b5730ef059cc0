// Package config loads settings from an optional YAML file, environment
// variables and command-line flags, in that order of precedence.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eslider/msgparse/internal/parser"
	"github.com/eslider/msgparse/internal/storage"
)

// Config holds every setting of the CLI and the HTTP server.
type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogDir     string           `yaml:"log_dir"`
	MaxDepth   int              `yaml:"max_depth"`
	S3         storage.S3Config `yaml:"s3"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr: ":8090",
		DataDir:    "./data",
		LogLevel:   "info",
		MaxDepth:   parser.DefaultMaxDepth,
		S3: storage.S3Config{
			Bucket: "msgparse",
			UseSSL: true,
			Region: "us-east-1",
		},
	}
}

// Load reads path (skipped when empty) over the defaults and applies the
// process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, eris.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.normalize()
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("DATA_DIR", &c.DataDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_DIR", &c.LogDir)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &c.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey)
	str("S3_BUCKET", &c.S3.Bucket)
	str("AWS_REGION", &c.S3.Region)
	str("S3_PREFIX", &c.S3.Prefix)

	if v, ok := lookup("MAX_DEPTH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return eris.Wrapf(err, "MAX_DEPTH %q", v)
		}
		c.MaxDepth = n
	}
	if v, ok := lookup("S3_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return eris.Wrapf(err, "S3_USE_SSL %q", v)
		}
		c.S3.UseSSL = b
	}
	return nil
}

// RegisterFlags attaches the global flags to the root command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a file in this directory")
	flags.String("data-dir", "", "Directory for the archive database and stored files")
	flags.Int("max-depth", 0, "Maximum nesting of embedded messages")
}

// LoadFromCommand loads the file named by --config, applies the environment
// and then every flag the user set explicitly, and validates the result.
func LoadFromCommand(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}

	for name, dst := range map[string]*string{
		"log-level": &cfg.LogLevel,
		"log-dir":   &cfg.LogDir,
		"data-dir":  &cfg.DataDir,
	} {
		if flags.Changed(name) {
			if *dst, err = flags.GetString(name); err != nil {
				return cfg, err
			}
		}
	}
	if flags.Changed("max-depth") {
		if cfg.MaxDepth, err = flags.GetInt("max-depth"); err != nil {
			return cfg, err
		}
	}
	if f := flags.Lookup("listen"); f != nil && f.Changed {
		cfg.ListenAddr = f.Value.String()
	}

	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
}

// Validate rejects settings the program cannot run with.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return eris.Errorf("invalid log level: %q", c.LogLevel)
	}
	if c.MaxDepth <= 0 {
		return eris.Errorf("max depth must be positive, got %d", c.MaxDepth)
	}
	if c.DataDir == "" {
		return eris.New("data dir is required")
	}

	s3 := c.S3
	set := 0
	for _, v := range []string{s3.Endpoint, s3.AccessKeyID, s3.SecretAccessKey} {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < 3 {
		return eris.New("S3 needs endpoint, access key id and secret access key together")
	}
	if set == 3 && s3.Bucket == "" {
		return eris.New("S3 bucket is required")
	}
	return nil
}
