package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/menta2k/street-inpaint/pkg/client"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// GroundingPrompt asks the vision model for every instance of a caption.
// %s is replaced by the normalized caption.
const GroundingPrompt = `You are an open-vocabulary object detector for street-level photographs.

Find EVERY instance of: %s

Return JSON only:
{
  "objects": [
    {
      "label": "string",
      "confidence": 0.0,
      "label_confidence": 0.0,
      "box": {"cx": 0.0, "cy": 0.0, "w": 0.0, "h": 0.0}
    }
  ]
}

HARD RULES
- Coordinates are normalized to [0,1] (NOT pixels). cx,cy is the box CENTER, w,h its size.
- confidence is how sure you are the box contains the requested object.
- label_confidence is how well the label phrase matches the requested text.
- Include shadows or attached parts only when the request names them.
- If nothing matches, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options configures how images are sent to the model.
type Options struct {
	Model       string
	SendFormat  string // jpg or png
	SendSize    int    // short side in px, 0 = original
	SendMaxSize int    // cap on the long side in px, 0 = none
	SendQuality int
}

// DefaultOptions resizes the short side to 800px with the long side capped
// at 1333px, the evaluation resize of grounding models.
func DefaultOptions(model string) Options {
	return Options{Model: model, SendFormat: "jpg", SendSize: 800, SendMaxSize: 1333, SendQuality: 90}
}

// GroundingDetector finds prompt matches through a multimodal model. It is
// not safe for concurrent use; give each worker its own.
type GroundingDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
	lower     cases.Caser
}

// NewGroundingDetector creates a detector on top of a vision client
func NewGroundingDetector(vc client.VisionClient, opts Options) *GroundingDetector {
	if opts.SendFormat == "" {
		opts.SendFormat = "jpg"
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = 90
	}
	return &GroundingDetector{
		client:    vc,
		processor: processing.NewProcessor(),
		opts:      opts,
		lower:     cases.Lower(language.Und),
	}
}

// NormalizeCaption lower-cases and trims the prompt and terminates it with a
// period.
func (d *GroundingDetector) NormalizeCaption(prompt string) string {
	caption := strings.TrimSpace(d.lower.String(prompt))
	if !strings.HasSuffix(caption, ".") {
		caption += "."
	}
	return caption
}

// Detect implements client.Detector. A box is kept when its confidence
// exceeds th.Box; its label is kept only when the label confidence exceeds
// th.Text.
func (d *GroundingDetector) Detect(ctx context.Context, img image.Image, prompt string, th types.Thresholds) ([]types.DetectionBox, error) {
	caption := d.NormalizeCaption(prompt)

	sent := processing.ResizeShortSide(img, d.opts.SendSize, d.opts.SendMaxSize)
	imgB64, err := d.processor.PrepareImageForModel(sent, d.opts.SendFormat, 0, d.opts.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}

	raw, err := d.client.Query(ctx, d.opts.Model, fmt.Sprintf(GroundingPrompt, caption), imgB64)
	if err != nil {
		return nil, err
	}

	objects, err := parseObjects(raw)
	if err != nil {
		return nil, err
	}
	return filterObjects(objects, th), nil
}

type groundingBox struct {
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

type groundingObject struct {
	Label           string       `json:"label"`
	Confidence      float64      `json:"confidence"`
	LabelConfidence *float64     `json:"label_confidence"`
	Box             groundingBox `json:"box"`
}

type groundingResponse struct {
	Objects []groundingObject `json:"objects"`
}

// parseObjects parses the model answer. Unlike subject detection there is no
// safe fallback box: a guessed box would erase real content, so malformed
// output is an error.
func parseObjects(raw string) ([]groundingObject, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("model returned non-JSON response: %.80q", raw)
	}

	var resp groundingResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return resp.Objects, nil
}

func filterObjects(objects []groundingObject, th types.Thresholds) []types.DetectionBox {
	out := make([]types.DetectionBox, 0, len(objects))
	for _, o := range objects {
		if !finite(o.Confidence, o.Box.CX, o.Box.CY, o.Box.W, o.Box.H) {
			continue
		}
		if o.Confidence <= th.Box {
			continue
		}
		box := normalizeBox(o.Box)
		if box.W <= 0 || box.H <= 0 {
			continue
		}

		labelScore := o.Confidence
		if o.LabelConfidence != nil {
			labelScore = *o.LabelConfidence
		}
		label := ""
		if labelScore > th.Text {
			label = strings.TrimSpace(o.Label)
		}

		out = append(out, types.DetectionBox{
			CX:         box.CX,
			CY:         box.CY,
			W:          box.W,
			H:          box.H,
			Confidence: o.Confidence,
			Label:      label,
		})
	}
	return out
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b groundingBox) groundingBox {
	return groundingBox{
		CX: clamp(b.CX, 0, 1),
		CY: clamp(b.CY, 0, 1),
		W:  clamp(b.W, 0, 1),
		H:  clamp(b.H, 0, 1),
	}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
