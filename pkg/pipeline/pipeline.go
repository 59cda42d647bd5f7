// Package pipeline applies an ordered list of removal prompts to one image.
// Each prompt sees the output of the previous one, so a later prompt never
// re-detects an object an earlier prompt already erased.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/pkg/client"
	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// Collaborators are the model capabilities a pipeline needs. A Segmenter
// holds per-image state, so a set of collaborators must not be shared
// between concurrently running pipelines.
type Collaborators struct {
	Detector  client.Detector
	Segmenter client.Segmenter
	Inpainter client.Inpainter
}

// Options are applied uniformly to every prompt.
type Options struct {
	Prompts      []string
	Thresholds   types.Thresholds
	DilateKernel int
}

// Result is the outcome of a full run. Composite is nil when no prompt
// masked anything.
type Result struct {
	Image     *image.NRGBA
	Composite *mask.Mask
	Steps     []StepResult
}

// Boxes returns every detection box of every step.
func (r *Result) Boxes() []types.PixelBox {
	var out []types.PixelBox
	for _, s := range r.Steps {
		out = append(out, s.Boxes...)
	}
	return out
}

// Failed returns the steps that degraded.
func (r *Result) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Pipeline runs the prompts in order. It is not safe for concurrent use.
type Pipeline struct {
	step    *Step
	prompts []string
	logger  *slog.Logger
}

// New creates a pipeline over the given collaborators.
func New(c Collaborators, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		step:    NewStep(c, opts.Thresholds, opts.DilateKernel, logger),
		prompts: append([]string(nil), opts.Prompts...),
		logger:  logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Prompts returns the prompt order.
func (p *Pipeline) Prompts() []string {
	return append([]string(nil), p.prompts...)
}

// Run applies every prompt exactly once. img is never modified. A failing
// prompt does not stop the run; only context cancellation does.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()
	working := image.Image(processing.ToWorking(img))

	res := &Result{Steps: make([]StepResult, 0, len(p.prompts))}
	var accumulated []*mask.Mask

	for _, prompt := range p.prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr := p.step.Apply(ctx, working, prompt)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Steps = append(res.Steps, sr)
		working = sr.Image
		if sr.Mask != nil {
			accumulated = append(accumulated, sr.Mask)
		}
	}

	composite, err := mask.Merge(accumulated...)
	if err != nil {
		return nil, fmt.Errorf("merge step masks: %w", err)
	}
	res.Composite = composite
	if nrgba, ok := working.(*image.NRGBA); ok {
		res.Image = nrgba
	} else {
		res.Image = processing.ToWorking(working)
	}

	p.logger.Debug("pipeline finished",
		slog.Int("prompts", len(p.prompts)),
		slog.Int("masked_steps", len(accumulated)),
		slog.Int("failed_steps", len(res.Failed())),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
