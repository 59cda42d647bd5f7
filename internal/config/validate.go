package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}

	switch c.Runtime.Device {
	case "auto", "cuda", "cpu":
	default:
		return fmt.Errorf("runtime.device must be auto, cuda or cpu, got %q", c.Runtime.Device)
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateDetection() error {
	switch c.Detection.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("detection.backend must be ollama or llamacpp, got %q", c.Detection.Backend)
	}
	if strings.TrimSpace(c.Detection.Model) == "" {
		return errors.New("detection.model is required")
	}
	if c.Detection.BoxThreshold < 0 || c.Detection.BoxThreshold > 1 {
		return fmt.Errorf("detection.box_threshold must be between 0 and 1")
	}
	if c.Detection.TextThreshold < 0 || c.Detection.TextThreshold > 1 {
		return fmt.Errorf("detection.text_threshold must be between 0 and 1")
	}
	switch c.Detection.SendFormat {
	case "jpg", "png":
	default:
		return fmt.Errorf("detection.send_format must be jpg or png, got %q", c.Detection.SendFormat)
	}
	if c.Detection.SendSize < 0 {
		return fmt.Errorf("detection.send_size must not be negative")
	}
	if c.Detection.SendMaxSize < 0 {
		return fmt.Errorf("detection.send_max_size must not be negative")
	}
	if c.Detection.SendQuality < 1 || c.Detection.SendQuality > 100 {
		return fmt.Errorf("detection.send_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateModels() error {
	switch c.Segmentation.Backend {
	case "box":
	case "http":
		if strings.TrimSpace(c.Segmentation.URL) == "" {
			return errors.New("segmentation.url is required for the http backend")
		}
	default:
		return fmt.Errorf("segmentation.backend must be http or box, got %q", c.Segmentation.Backend)
	}

	switch c.Inpainting.Backend {
	case "meanfill":
	case "http":
		if strings.TrimSpace(c.Inpainting.URL) == "" {
			return errors.New("inpainting.url is required for the http backend")
		}
	default:
		return fmt.Errorf("inpainting.backend must be http or meanfill, got %q", c.Inpainting.Backend)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.Prompts) == 0 {
		return errors.New("pipeline.prompts cannot be empty")
	}
	if c.Pipeline.DilateKernelSize < 0 {
		return fmt.Errorf("pipeline.dilate_kernel_size must not be negative")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be between 1 and 100")
	}
	return nil
}
