package stag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tstromberg/stag/pkg/xmp"
)

const (
	// DefaultPrefix is the top-level keyword under which labels are filed.
	DefaultPrefix = "st"
	// DefaultModel is the Gemini model asked for labels.
	DefaultModel = "gemini-2.5-flash"
	// DefaultImageSize is the longest edge, in pixels, of the image sent to the model.
	DefaultImageSize = 384
)

// Config holds configuration for a tagging run.
type Config struct {
	Root     string `toml:"root"`
	Prefix   string `toml:"prefix"`
	Force    bool   `toml:"force"`
	Simulate bool   `toml:"simulate"`

	// PreferExactNaming names new sidecars <name>.<ext>.xmp rather than <name>.xmp.
	PreferExactNaming     bool `toml:"prefer_exact_naming"`
	StripDateTimeOriginal bool `toml:"strip_date_time_original"`

	BackupDir string `toml:"backup_dir"`
	CachePath string `toml:"cache_path"`

	Model     string `toml:"model"`
	ImageSize int    `toml:"image_size"`

	Watch bool `toml:"watch"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Prefix:    DefaultPrefix,
		Model:     DefaultModel,
		ImageSize: DefaultImageSize,
	}
}

// LoadConfig reads a TOML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(bs, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks that the configuration can be used for a run.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root directory is required")
	}
	st, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("root %s is not a directory", c.Root)
	}
	if c.Prefix == "" {
		return errors.New("prefix must not be empty")
	}
	if strings.Contains(c.Prefix, xmp.Separator) {
		return fmt.Errorf("prefix %q must not contain %q", c.Prefix, xmp.Separator)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image size must be positive, got %d", c.ImageSize)
	}
	return nil
}

// ignored returns true for paths the run produces itself (backups, the label cache and its journals).
func (c *Config) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, p := range []string{c.BackupDir, c.CachePath} {
		if p == "" {
			continue
		}
		own, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if abs == own || strings.HasPrefix(abs, own+"-") {
			return true
		}
	}
	return false
}
