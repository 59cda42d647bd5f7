package config

import "github.com/menta2k/street-inpaint/internal/utils"

const (
	defaultOutputDir        = "./output"
	defaultStateDir         = "~/.local/share/street-inpaint"
	defaultDetectionBackend = "ollama"
	defaultOllamaURL        = "http://localhost:11434"
	defaultLlamaCppURL      = "http://localhost:8080"
	defaultDetectionModel   = "qwen2.5vl:7b"
	defaultBoxThreshold     = 0.3
	defaultTextThreshold    = 0.25
	defaultSendFormat       = "jpg"
	defaultSendSize         = 800
	defaultSendMaxSize      = 1333
	defaultSendQuality      = 90
	defaultSegmentBackend   = "http"
	defaultSegmentURL       = "http://localhost:8765"
	defaultSegmentVariant   = "vit_h"
	defaultSegmentCkpt      = "sam_vit_h_4b8939.pth"
	defaultInpaintBackend   = "http"
	defaultInpaintURL       = "http://localhost:8766"
	defaultInpaintConfig    = "lama/configs/prediction/default.yaml"
	defaultInpaintCkpt      = "big-lama"
	defaultTimeoutSeconds   = 300
	defaultDilateKernelSize = 15
	defaultWorkers          = 1
	defaultJPEGQuality      = 95
	defaultDevice           = "auto"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
)

// DefaultPrompts are applied in order: people first, then cars with their
// shadows, then remaining car pixels, then trees.
var DefaultPrompts = []string{"people", "car and its shadow", "car", "tree"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
		},
		Detection: Detection{
			Backend:        defaultDetectionBackend,
			URL:            defaultOllamaURL,
			Model:          defaultDetectionModel,
			BoxThreshold:   defaultBoxThreshold,
			TextThreshold:  defaultTextThreshold,
			SendFormat:     defaultSendFormat,
			SendSize:       defaultSendSize,
			SendMaxSize:    defaultSendMaxSize,
			SendQuality:    defaultSendQuality,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Segmentation: Segmentation{
			Backend:        defaultSegmentBackend,
			URL:            defaultSegmentURL,
			Checkpoint:     defaultSegmentCkpt,
			Variant:        defaultSegmentVariant,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Inpainting: Inpainting{
			Backend:        defaultInpaintBackend,
			URL:            defaultInpaintURL,
			Config:         defaultInpaintConfig,
			Checkpoint:     defaultInpaintCkpt,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Pipeline: Pipeline{
			Prompts:          append([]string(nil), DefaultPrompts...),
			DilateKernelSize: defaultDilateKernelSize,
			Workers:          defaultWorkers,
			ImageExtensions:  append([]string(nil), utils.DefaultImageExtensions...),
			JPEGQuality:      defaultJPEGQuality,
		},
		Runtime: Runtime{Device: defaultDevice},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Journal: Journal{Enabled: true},
	}
}
