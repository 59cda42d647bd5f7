// Package streetinpaint removes unwanted objects from batches of street-level
// photographs.
//
// Every image runs through an ordered list of text prompts. Each prompt
// detects matching objects, segments them from their boxes, dilates the mask
// and inpaints the region; the inpainted image feeds the next prompt. The
// batch walker mirrors a tree of capture locations into an output root and
// can be re-run to resume an interrupted batch.
//
// Basic usage:
//
//	cfg := config.Default()
//	cfg.Paths.InputDir = "captures"
//	walker, pool, err := streetinpaint.NewWalker(&cfg, batch.Options{}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//	summary, err := walker.Run(ctx)
//
// The package wires three model capabilities, each with a remote backend
// and a local fallback:
//
//   - Detection (pkg/detection): a multimodal model served by Ollama or
//     llama.cpp answers grounding requests.
//   - Segmentation (pkg/segmentation): a box-prompted model server, or the
//     boxes themselves rasterized as masks.
//   - Inpainting (pkg/inpainting): an inpainting model server, or a
//     neighbour-averaging fill.
package streetinpaint

import (
	"fmt"
	"log/slog"

	"github.com/menta2k/street-inpaint/internal/config"
	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/pkg/batch"
	"github.com/menta2k/street-inpaint/pkg/client"
	"github.com/menta2k/street-inpaint/pkg/detection"
	"github.com/menta2k/street-inpaint/pkg/inpainting"
	"github.com/menta2k/street-inpaint/pkg/llamacpp"
	"github.com/menta2k/street-inpaint/pkg/ollama"
	"github.com/menta2k/street-inpaint/pkg/pipeline"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/segmentation"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// Version of the street-inpaint library
const Version = "0.3.0"

// NewVisionClient creates the multimodal client for the configured detection
// backend.
func NewVisionClient(cfg *config.Config) (client.VisionClient, error) {
	switch cfg.Detection.Backend {
	case "ollama":
		c, err := ollama.NewClient(cfg.Detection.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		c.SetTimeout(cfg.DetectionTimeout())
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.Detection.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		c.SetTimeout(cfg.DetectionTimeout())
		return c, nil
	default:
		return nil, fmt.Errorf("unknown detection backend %q (use ollama or llamacpp)", cfg.Detection.Backend)
	}
}

// NewDetector creates a grounding detector on top of vc.
func NewDetector(cfg *config.Config, vc client.VisionClient) *detection.GroundingDetector {
	return detection.NewGroundingDetector(vc, detection.Options{
		Model:       cfg.Detection.Model,
		SendFormat:  cfg.Detection.SendFormat,
		SendSize:    cfg.Detection.SendSize,
		SendMaxSize: cfg.Detection.SendMaxSize,
		SendQuality: cfg.Detection.SendQuality,
	})
}

// NewSegmenter creates the configured segmenter. Segmenters hold per-image
// state; create one per pipeline.
func NewSegmenter(cfg *config.Config) (client.Segmenter, error) {
	switch cfg.Segmentation.Backend {
	case "http":
		return segmentation.NewHTTPSegmenter(cfg.Segmentation.URL, segmentation.RemoteOptions{
			Checkpoint: cfg.Segmentation.Checkpoint,
			Variant:    cfg.Segmentation.Variant,
			Device:     cfg.Runtime.Device,
			Timeout:    cfg.SegmentationTimeout(),
		}), nil
	case "box":
		return segmentation.NewBoxSegmenter(), nil
	default:
		return nil, fmt.Errorf("unknown segmentation backend %q (use http or box)", cfg.Segmentation.Backend)
	}
}

// NewInpainter creates the configured inpainter.
func NewInpainter(cfg *config.Config) (client.Inpainter, error) {
	switch cfg.Inpainting.Backend {
	case "http":
		return inpainting.NewHTTPInpainter(cfg.Inpainting.URL, inpainting.RemoteOptions{
			Config:     cfg.Inpainting.Config,
			Checkpoint: cfg.Inpainting.Checkpoint,
			Device:     cfg.Runtime.Device,
			Timeout:    cfg.InpaintingTimeout(),
		}), nil
	case "meanfill":
		return inpainting.NewMeanFillInpainter(), nil
	default:
		return nil, fmt.Errorf("unknown inpainting backend %q (use http or meanfill)", cfg.Inpainting.Backend)
	}
}

// NewPipelineFactory returns a batch.Factory that builds an independent set
// of collaborators for every worker.
func NewPipelineFactory(cfg *config.Config, logger *slog.Logger) batch.Factory {
	opts := pipeline.Options{
		Prompts: cfg.Pipeline.Prompts,
		Thresholds: types.Thresholds{
			Box:  cfg.Detection.BoxThreshold,
			Text: cfg.Detection.TextThreshold,
		},
		DilateKernel: cfg.Pipeline.DilateKernelSize,
	}
	return func(worker int) (*pipeline.Pipeline, error) {
		vc, err := NewVisionClient(cfg)
		if err != nil {
			return nil, err
		}
		seg, err := NewSegmenter(cfg)
		if err != nil {
			return nil, err
		}
		inp, err := NewInpainter(cfg)
		if err != nil {
			return nil, err
		}
		c := pipeline.Collaborators{
			Detector:  NewDetector(cfg, vc),
			Segmenter: seg,
			Inpainter: inp,
		}
		return pipeline.New(c, opts, logger.With(slog.Int("worker", worker))), nil
	}
}

// NewWalker builds a worker pool and a batch walker from cfg. Paths, worker
// count, extensions and the debug overlay switch come from cfg; opts supplies
// the progress writer and recorder. The caller closes the pool.
func NewWalker(cfg *config.Config, opts batch.Options, logger *slog.Logger) (*batch.Walker, *batch.Pool, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	pool, err := batch.NewPool(cfg.Pipeline.Workers, NewPipelineFactory(cfg, logger))
	if err != nil {
		return nil, nil, err
	}

	opts.InputDir = cfg.Paths.InputDir
	opts.OutputDir = cfg.Paths.OutputDir
	opts.ImageExtensions = cfg.Pipeline.ImageExtensions
	opts.Workers = cfg.Pipeline.Workers
	opts.DebugOverlay = cfg.Pipeline.DebugOverlay

	processor := processing.NewProcessorWithQuality(cfg.Pipeline.JPEGQuality)
	return batch.NewWalker(opts, pool, processor, logger), pool, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
