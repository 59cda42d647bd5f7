package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/menta2k/street-inpaint/internal/utils"
)

// Paths holds the batch input and output roots.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	StateDir  string `toml:"state_dir"`
}

// Detection configures the open-vocabulary detector.
type Detection struct {
	Backend        string  `toml:"backend"` // ollama or llamacpp
	URL            string  `toml:"url"`
	Model          string  `toml:"model"`
	BoxThreshold   float64 `toml:"box_threshold"`
	TextThreshold  float64 `toml:"text_threshold"`
	SendFormat     string  `toml:"send_format"`
	SendSize       int     `toml:"send_size"`
	SendMaxSize    int     `toml:"send_max_size"`
	SendQuality    int     `toml:"send_quality"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Segmentation configures the box-prompted segmenter.
type Segmentation struct {
	Backend        string `toml:"backend"` // http or box
	URL            string `toml:"url"`
	Checkpoint     string `toml:"checkpoint"`
	Variant        string `toml:"variant"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Inpainting configures the inpainter.
type Inpainting struct {
	Backend        string `toml:"backend"` // http or meanfill
	URL            string `toml:"url"`
	Config         string `toml:"config"`
	Checkpoint     string `toml:"checkpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Pipeline holds the per-image processing parameters. Thresholds and the
// dilation kernel apply to every prompt alike.
type Pipeline struct {
	Prompts          []string `toml:"prompts"`
	DilateKernelSize int      `toml:"dilate_kernel_size"`
	Workers          int      `toml:"workers"`
	ImageExtensions  []string `toml:"image_extensions"`
	JPEGQuality      int      `toml:"jpeg_quality"`
	DebugOverlay     bool     `toml:"debug_overlay"`
}

// Runtime selects where the model servers run the models.
type Runtime struct {
	Device string `toml:"device"` // auto, cuda or cpu
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Journal configures the SQLite run journal.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config holds the application configuration.
type Config struct {
	Paths        Paths        `toml:"paths"`
	Detection    Detection    `toml:"detection"`
	Segmentation Segmentation `toml:"segmentation"`
	Inpainting   Inpainting   `toml:"inpainting"`
	Pipeline     Pipeline     `toml:"pipeline"`
	Runtime      Runtime      `toml:"runtime"`
	Logging      Logging      `toml:"logging"`
	Journal      Journal      `toml:"journal"`
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	return utils.ExpandHome("~/.config/street-inpaint/config.toml")
}

// Load parses and validates the configuration file at path. An empty path
// means DefaultConfigPath. A missing file yields the defaults; the returned
// bool reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	var err error
	if path == "" {
		path, err = DefaultConfigPath()
	} else {
		path, err = utils.ExpandHome(path)
	}
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", path)
	}
	return path, true, nil
}

// SaveToFile writes the configuration as TOML.
func (c *Config) SaveToFile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// JournalPath returns the journal database location.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// DetectionTimeout returns the per-request detection timeout.
func (c *Config) DetectionTimeout() time.Duration {
	return time.Duration(c.Detection.TimeoutSeconds) * time.Second
}

// SegmentationTimeout returns the per-request segmentation timeout.
func (c *Config) SegmentationTimeout() time.Duration {
	return time.Duration(c.Segmentation.TimeoutSeconds) * time.Second
}

// InpaintingTimeout returns the per-request inpainting timeout.
func (c *Config) InpaintingTimeout() time.Duration {
	return time.Duration(c.Inpainting.TimeoutSeconds) * time.Second
}
