package config

import (
	"fmt"
	"strings"

	"github.com/menta2k/street-inpaint/internal/utils"
)

// Normalize expands paths and canonicalizes enum-like values. It is called by
// Load and should be called again after CLI flags override fields.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDetection()
	c.normalizePipeline()

	c.Segmentation.Backend = lower(c.Segmentation.Backend)
	c.Inpainting.Backend = lower(c.Inpainting.Backend)
	c.Runtime.Device = lower(c.Runtime.Device)
	if c.Runtime.Device == "" {
		c.Runtime.Device = defaultDevice
	}

	c.Logging.Level = lower(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = lower(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.input_dir", &c.Paths.InputDir},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.state_dir", &c.Paths.StateDir},
		{"journal.path", &c.Journal.Path},
		{"logging.file", &c.Logging.File},
	}
	for _, f := range fields {
		expanded, err := utils.ExpandHome(strings.TrimSpace(*f.value))
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = expanded
	}
	return nil
}

func (c *Config) normalizeDetection() {
	c.Detection.Backend = lower(c.Detection.Backend)
	if c.Detection.Backend == "" {
		c.Detection.Backend = defaultDetectionBackend
	}
	if strings.TrimSpace(c.Detection.URL) == "" {
		if c.Detection.Backend == "llamacpp" {
			c.Detection.URL = defaultLlamaCppURL
		} else {
			c.Detection.URL = defaultOllamaURL
		}
	}
	c.Detection.SendFormat = lower(c.Detection.SendFormat)
	if c.Detection.SendFormat == "jpeg" {
		c.Detection.SendFormat = "jpg"
	}
}

func (c *Config) normalizePipeline() {
	prompts := make([]string, 0, len(c.Pipeline.Prompts))
	for _, p := range c.Pipeline.Prompts {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, p)
		}
	}
	c.Pipeline.Prompts = prompts

	exts := make([]string, 0, len(c.Pipeline.ImageExtensions))
	for _, e := range c.Pipeline.ImageExtensions {
		e = strings.TrimPrefix(lower(e), ".")
		if e != "" {
			exts = append(exts, e)
		}
	}
	if len(exts) == 0 {
		exts = append(exts, utils.DefaultImageExtensions...)
	}
	c.Pipeline.ImageExtensions = exts
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
