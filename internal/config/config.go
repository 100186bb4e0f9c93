// Package config loads importgraph settings from defaults, a YAML file in the
// analyzed directory, and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the optional per-project config file, read from the analyzed root.
const FileName = ".importgraph.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMPORTGRAPH_"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config holds every tunable of an analysis run and the servers built on it.
type Config struct {
	Output         string        `yaml:"output"`
	Format         string        `yaml:"format"`
	Workers        int           `yaml:"workers"`
	MaxFileSize    int64         `yaml:"max_file_size"`
	ContentTimeout time.Duration `yaml:"content_timeout"`
	Listen         string        `yaml:"listen"`
	CacheEntries   int           `yaml:"cache_entries"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	Layout         string        `yaml:"layout"`
	Exclude        []string      `yaml:"exclude"`
}

// Output formats.
const (
	FormatHTML = "html"
	FormatJSON = "json"
	FormatTOON = "toon"
)

// Layout engines.
const (
	LayoutSpring = "spring"
	LayoutCircle = "circle"
)

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Output:         "import_graph.html",
		Format:         FormatHTML,
		Workers:        0, // 0 means runtime.NumCPU()
		MaxFileSize:    1 << 20,
		ContentTimeout: 5 * time.Second,
		Listen:         "127.0.0.1:8000",
		CacheEntries:   256,
		LogLevel:       "info",
		LogFormat:      "text",
		Layout:         LayoutSpring,
	}
}

// Load returns the defaults overlaid with root/.importgraph.yaml, then with
// root/.env, then with the process environment. A missing file at any layer
// is not an error.
func Load(root string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case !missing(err):
		return cfg, fmt.Errorf("reading %s: %w", FileName, err)
	}

	env, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !missing(err) {
		return cfg, fmt.Errorf("reading .env: %w", err)
	}
	if env == nil {
		env = map[string]string{}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// missing reports whether a layer file is absent. A root that is not a
// directory is left for the analysis to reject.
func missing(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func (c *Config) applyEnv(env map[string]string) error {
	get := func(name string) (string, bool) {
		v, ok := env[EnvPrefix+name]
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("OUTPUT"); ok {
		c.Output = v
	}
	if v, ok := get("FORMAT"); ok {
		c.Format = strings.ToLower(v)
	}
	if v, ok := get("WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sWORKERS: %v", ErrInvalid, EnvPrefix, err)
		}
		c.Workers = n
	}
	if v, ok := get("MAX_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_FILE_SIZE: %v", ErrInvalid, EnvPrefix, err)
		}
		c.MaxFileSize = n
	}
	if v, ok := get("CONTENT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sCONTENT_TIMEOUT: %v", ErrInvalid, EnvPrefix, err)
		}
		c.ContentTimeout = d
	}
	if v, ok := get("LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := get("CACHE_ENTRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sCACHE_ENTRIES: %v", ErrInvalid, EnvPrefix, err)
		}
		c.CacheEntries = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := get("LAYOUT"); ok {
		c.Layout = strings.ToLower(v)
	}
	if v, ok := get("EXCLUDE"); ok {
		c.Exclude = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Exclude = append(c.Exclude, p)
			}
		}
	}
	return nil
}

// Validate checks enumerated fields and numeric bounds.
func (c Config) Validate() error {
	switch c.Format {
	case FormatHTML, FormatJSON, FormatTOON:
	default:
		return fmt.Errorf("%w: format %q (want html, json or toon)", ErrInvalid, c.Format)
	}
	switch c.Layout {
	case LayoutSpring, LayoutCircle:
	default:
		return fmt.Errorf("%w: layout %q (want spring or circle)", ErrInvalid, c.Layout)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalid)
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("%w: max_file_size must be >= 0", ErrInvalid)
	}
	if c.ContentTimeout <= 0 {
		return fmt.Errorf("%w: content_timeout must be positive", ErrInvalid)
	}
	if c.CacheEntries <= 0 {
		return fmt.Errorf("%w: cache_entries must be positive", ErrInvalid)
	}
	return nil
}
