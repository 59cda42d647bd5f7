package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/pkg/client"
	"github.com/menta2k/street-inpaint/pkg/geometry"
	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// StepResult is the outcome of one prompt. Mask is nil when nothing was
// masked; Image is then the input image. Err is set when the step degraded
// because a collaborator failed.
type StepResult struct {
	Prompt string
	Image  image.Image
	Mask   *mask.Mask
	Boxes  []types.PixelBox
	Err    error
}

// Step applies a single prompt: detect, segment, merge, dilate, inpaint.
type Step struct {
	detector     client.Detector
	segmenter    client.Segmenter
	inpainter    client.Inpainter
	thresholds   types.Thresholds
	dilateKernel int
	logger       *slog.Logger
}

// NewStep wires the three collaborators into a step.
func NewStep(c Collaborators, th types.Thresholds, dilateKernel int, logger *slog.Logger) *Step {
	return &Step{
		detector:     c.Detector,
		segmenter:    c.Segmenter,
		inpainter:    c.Inpainter,
		thresholds:   th,
		dilateKernel: dilateKernel,
		logger:       logging.NewComponentLogger(logger, "step"),
	}
}

// Apply runs prompt against img. Collaborator failures never escape: they
// are logged and the step reports the unchanged image with no mask.
func (s *Step) Apply(ctx context.Context, img image.Image, prompt string) StepResult {
	out, m, boxes, err := s.apply(ctx, img, prompt)
	if err != nil {
		if ctx.Err() == nil {
			attrs := []any{slog.String(logging.FieldPrompt, prompt), logging.Error(err)}
			if se, ok := err.(*StepError); ok {
				attrs = append(attrs, slog.String(logging.FieldStage, se.Stage))
			}
			s.logger.Warn("prompt step failed, continuing without mask", attrs...)
		}
		return StepResult{Prompt: prompt, Image: img, Boxes: boxes, Err: err}
	}
	return StepResult{Prompt: prompt, Image: out, Mask: m, Boxes: boxes}
}

func (s *Step) apply(ctx context.Context, img image.Image, prompt string) (out image.Image, m *mask.Mask, boxes []types.PixelBox, err error) {
	fail := func(stage string, err error) error {
		return &StepError{Prompt: prompt, Stage: stage, Cause: err}
	}

	// stage names the collaborator currently running so a panic is
	// attributed to it.
	stage := StageDetect
	defer func() {
		if r := recover(); r != nil {
			out, m = nil, nil
			err = fail(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	detections, err := s.detector.Detect(ctx, img, prompt, s.thresholds)
	if err != nil {
		return nil, nil, nil, fail(StageDetect, err)
	}
	if len(detections) == 0 {
		s.logger.Debug("no detections", slog.String(logging.FieldPrompt, prompt))
		return img, nil, nil, nil
	}

	boxes = geometry.ToPixelBoxes(detections, w, h)

	stage = StageSegment
	if err := s.segmenter.SetImage(ctx, img); err != nil {
		return nil, nil, boxes, fail(StageSegment, err)
	}
	masks, err := s.segmenter.Predict(ctx, boxes)
	if err != nil {
		return nil, nil, boxes, fail(StageSegment, err)
	}
	if len(masks) != len(boxes) {
		return nil, nil, boxes, fail(StageSegment, fmt.Errorf("got %d masks for %d boxes", len(masks), len(boxes)))
	}
	for i, pm := range masks {
		if pm == nil {
			return nil, nil, boxes, fail(StageSegment, fmt.Errorf("mask %d is nil", i))
		}
		if err := pm.CheckExtent(w, h); err != nil {
			return nil, nil, boxes, fail(StageSegment, fmt.Errorf("mask %d: %w", i, err))
		}
	}

	merged, err := mask.Merge(masks...)
	if err != nil {
		return nil, nil, boxes, fail(StageSegment, err)
	}
	dilated := mask.Dilate(merged, s.dilateKernel)
	if dilated.IsEmpty() {
		s.logger.Debug("segmentation produced an empty mask", slog.String(logging.FieldPrompt, prompt))
		return img, nil, boxes, nil
	}

	stage = StageInpaint
	inpainted, err := s.inpainter.Inpaint(ctx, img, dilated)
	if err != nil {
		return nil, nil, boxes, fail(StageInpaint, err)
	}
	if rb := inpainted.Bounds(); rb.Dx() != w || rb.Dy() != h {
		return nil, nil, boxes, fail(StageInpaint, fmt.Errorf("%w: result is %dx%d, want %dx%d",
			mask.ErrExtentMismatch, rb.Dx(), rb.Dy(), w, h))
	}

	s.logger.Debug("prompt applied",
		slog.String(logging.FieldPrompt, prompt),
		slog.Int("boxes", len(boxes)),
		slog.Int("masked_pixels", dilated.Count()),
	)
	return processing.ToWorking(inpainted), dilated, boxes, nil
}
