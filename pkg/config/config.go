package config

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/user"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/memscan/memscan/pkg/scan"
)

const (
	configDir  string = ".config/memscan"
	configFile string = "config.yml"
)

const (
	DefaultCachePages = 256
	DefaultMaxPrint   = 16
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// ChunkSize is the size of the reads issued by a full scan.
	ChunkSize *int `yaml:"chunk-size,omitempty"`
	// CoalesceWindow is the largest range read used to refresh neighboring
	// candidates at once, 0 disables coalescing.
	CoalesceWindow *int `yaml:"coalesce-window,omitempty"`
	// RefineBatch is the number of candidates handled by one unit of work.
	RefineBatch *int `yaml:"refine-batch,omitempty"`
	// Workers is the number of concurrent reads, 0 means GOMAXPROCS.
	Workers *int `yaml:"workers,omitempty"`

	// Retries is the number of times a read failing with a transient error
	// is retried before the region or candidate is skipped.
	Retries *int `yaml:"retries,omitempty"`
	// RefineRetries is the number of retries of the read of a candidate
	// during a refine, by default the candidate is dropped.
	RefineRetries *int           `yaml:"refine-retries,omitempty"`
	RetryBackoff  *time.Duration `yaml:"retry-backoff,omitempty"`
	ReadTimeout   *time.Duration `yaml:"read-timeout,omitempty"`

	// CachePages is the number of pages kept by the read cache, 0 disables it.
	CachePages *int `yaml:"cache-pages,omitempty"`

	// MaxPrint is the maximum number of candidates printed by list and
	// after every scan.
	MaxPrint *int `yaml:"max-print,omitempty"`

	// ByteOrder of the target, "little" or "big".
	ByteOrder string `yaml:"byte-order,omitempty"`
	// Unaligned scans every byte offset.
	Unaligned bool `yaml:"unaligned"`
}

// ScanConfig returns the scanner tunables described by the configuration,
// unset options keep the scanner defaults.
func (c *Config) ScanConfig() (scan.Config, error) {
	cfg := scan.DefaultConfig()
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&cfg.ChunkSize, c.ChunkSize)
	setInt(&cfg.CoalesceWindow, c.CoalesceWindow)
	setInt(&cfg.RefineBatch, c.RefineBatch)
	setInt(&cfg.Retries, c.Retries)
	setInt(&cfg.RefineRetries, c.RefineRetries)
	if c.Workers != nil && *c.Workers > 0 {
		cfg.Workers = *c.Workers
	}
	if c.RetryBackoff != nil {
		cfg.RetryBackoff = *c.RetryBackoff
		if cfg.MaxRetryBackoff < cfg.RetryBackoff {
			cfg.MaxRetryBackoff = cfg.RetryBackoff
		}
	}
	if c.ReadTimeout != nil {
		cfg.ReadTimeout = *c.ReadTimeout
	}
	order, err := ParseByteOrder(c.ByteOrder)
	if err != nil {
		return cfg, err
	}
	cfg.ByteOrder = order
	cfg.Unaligned = c.Unaligned
	if cfg.ChunkSize < 0 || cfg.RefineBatch < 0 || cfg.CoalesceWindow < 0 || cfg.Retries < 0 || cfg.RefineRetries < 0 {
		return cfg, fmt.Errorf("negative scanner option in configuration")
	}
	return cfg, nil
}

// GetCachePages returns the number of pages of the read cache.
func (c *Config) GetCachePages() int {
	if c.CachePages == nil {
		return DefaultCachePages
	}
	return *c.CachePages
}

// GetMaxPrint returns the number of candidates printed by default.
func (c *Config) GetMaxPrint() int {
	if c.MaxPrint == nil || *c.MaxPrint <= 0 {
		return DefaultMaxPrint
	}
	return *c.MaxPrint
}

// ParseByteOrder parses "little", "big" or their short forms, the empty
// string is little endian.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", s)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := readConfig(f)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

func readConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}
	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for memscan.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Size of the reads issued by a full scan.
# chunk-size: 65536

# Largest range read used to refresh neighboring candidates, 0 disables coalescing.
# coalesce-window: 4096

# Number of candidates handled by one unit of work during a refine.
# refine-batch: 4096

# Number of concurrent reads, 0 uses one worker per CPU.
# workers: 0

# Transient read failures are retried this many times before the region
# is skipped.
# retries: 3
# Retries of the read of a candidate during a refine, by default a
# candidate that can not be read is dropped.
# refine-retries: 0
# retry-backoff: 10ms
# read-timeout: 2s

# Number of pages kept by the read cache, 0 disables it.
# cache-pages: 256

# Number of candidates printed after a scan.
# max-print: 16

# Byte order of the target, little or big.
# byte-order: little

# Uncomment to scan every byte offset instead of naturally aligned addresses.
# unaligned: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("MEMSCAN_CONFIG_DIR"); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
