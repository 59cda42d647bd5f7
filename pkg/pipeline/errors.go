package pipeline

import (
	"errors"
	"fmt"
)

// Failure classes. A StepError matches exactly one of the first three via
// errors.Is; ErrIO marks artifact read/write failures in the batch layer.
var (
	ErrDetection    = errors.New("detection failed")
	ErrSegmentation = errors.New("segmentation failed")
	ErrInpaint      = errors.New("inpainting failed")
	ErrIO           = errors.New("artifact i/o failed")
)

// Stage names used in StepError and log lines.
const (
	StageDetect  = "detect"
	StageSegment = "segment"
	StageInpaint = "inpaint"
)

// StepError records which prompt and stage failed.
type StepError struct {
	Prompt string
	Stage  string
	Cause  error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("prompt %q: %s: %v", e.Prompt, e.Stage, e.Cause)
	}
	return fmt.Sprintf("prompt %q: %s failed", e.Prompt, e.Stage)
}

func (e *StepError) Unwrap() error { return e.Cause }

// Is matches the sentinel for the failed stage.
func (e *StepError) Is(target error) bool {
	switch e.Stage {
	case StageDetect:
		return target == ErrDetection
	case StageSegment:
		return target == ErrSegmentation
	case StageInpaint:
		return target == ErrInpaint
	}
	return false
}
