package batch_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/internal/testsupport"
	"github.com/menta2k/street-inpaint/pkg/batch"
	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/pipeline"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/types"
)

var white = color.NRGBA{255, 255, 255, 255}

type harness struct {
	in, out   string
	detector  *testsupport.Detector
	inpainter *testsupport.Inpainter
	recorder  *memRecorder
}

type memRecorder struct {
	mu      sync.Mutex
	records []batch.ItemRecord
}

func (r *memRecorder) RecordItem(_ context.Context, rec batch.ItemRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) byName() map[string]batch.ItemRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]batch.ItemRecord, len(r.records))
	for _, rec := range r.records {
		out[rec.Location+"/"+rec.Name] = rec
	}
	return out
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func readImage(t *testing.T, path string) *image.NRGBA {
	t.Helper()
	img, err := processing.NewProcessor().LoadImage(path)
	require.NoError(t, err)
	return processing.ToWorking(img)
}

func newHarness(t *testing.T, boxes map[string][]types.DetectionBox) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		in:        filepath.Join(root, "in"),
		out:       filepath.Join(root, "out"),
		detector:  &testsupport.Detector{Boxes: boxes},
		inpainter: &testsupport.Inpainter{Fill: white},
		recorder:  &memRecorder{},
	}

	writePNG(t, filepath.Join(h.in, "loc_001", "heading_000.png"), testsupport.Gradient(100, 100))
	writePNG(t, filepath.Join(h.in, "loc_001", "heading_090.PNG"), testsupport.Gradient(100, 100))
	writePNG(t, filepath.Join(h.in, "loc_002", "heading_000.png"), testsupport.Gradient(100, 100))
	require.NoError(t, os.WriteFile(filepath.Join(h.in, "loc_002", "broken.jpg"), []byte("not an image"), 0o644))

	meta := filepath.Join(h.in, "loc_001", "metadata.json")
	require.NoError(t, os.WriteFile(meta, []byte(`{"lat": 47.1, "lon": 8.5}`), 0o600))
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(meta, mtime, mtime))

	require.NoError(t, os.WriteFile(filepath.Join(h.in, "README.txt"), []byte("root file"), 0o644))
	writePNG(t, filepath.Join(h.in, "loc_001", "nested", "deep.png"), testsupport.Gradient(4, 4))
	return h
}

func (h *harness) walker(t *testing.T, workers int) *batch.Walker {
	t.Helper()
	pool, err := batch.NewPool(workers, func(int) (*pipeline.Pipeline, error) {
		return pipeline.New(pipeline.Collaborators{
			Detector:  h.detector,
			Segmenter: &testsupport.Segmenter{},
			Inpainter: h.inpainter,
		}, pipeline.Options{
			Prompts:      []string{"people", "car"},
			Thresholds:   types.Thresholds{Box: 0.3, Text: 0.25},
			DilateKernel: 3,
		}, logging.NewNop()), nil
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return batch.NewWalker(batch.Options{
		InputDir:  h.in,
		OutputDir: h.out,
		Workers:   workers,
		Recorder:  h.recorder,
	}, pool, processing.NewProcessor(), logging.NewNop())
}

func TestRunWritesArtifacts(t *testing.T) {
	h := newHarness(t, map[string][]types.DetectionBox{
		"people": {{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.9}},
	})

	summary, err := h.walker(t, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Locations)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Masked)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)

	wantMask := mask.Dilate(mask.FromRect(100, 100, image.Rect(40, 30, 60, 70)), 3)

	for _, rel := range []string{"loc_001/heading_000", "loc_002/heading_000"} {
		dir, stem := filepath.Split(filepath.Join(h.out, rel))
		got := mask.FromImage(readImage(t, filepath.Join(dir, "with_mask_"+stem+".png")))
		assert.True(t, got.Equal(wantMask), rel)

		out := readImage(t, filepath.Join(dir, "inpainted_"+stem+".png"))
		assert.Equal(t, white, out.NRGBAAt(50, 50))
		assert.Equal(t, testsupport.Gradient(100, 100).NRGBAAt(5, 5), out.NRGBAAt(5, 5))
	}
	// original extension kept verbatim
	assert.FileExists(t, filepath.Join(h.out, "loc_001", "inpainted_heading_090.PNG"))
	assert.FileExists(t, filepath.Join(h.out, "loc_001", "with_mask_heading_090.png"))

	// ignored: root files, nested directories
	assert.NoFileExists(t, filepath.Join(h.out, "README.txt"))
	assert.NoDirExists(t, filepath.Join(h.out, "loc_001", "nested"))
	assert.NoFileExists(t, filepath.Join(h.out, "loc_002", "inpainted_broken.jpg"))

	rec := h.recorder.byName()
	assert.Equal(t, batch.StatusFailed, rec["loc_002/broken.jpg"].Status)
	assert.Error(t, rec["loc_002/broken.jpg"].Err)
	assert.Equal(t, batch.StatusCopied, rec["loc_001/metadata.json"].Status)
	assert.Equal(t, types.KindPassThrough, rec["loc_001/metadata.json"].Kind)
	assert.True(t, rec["loc_001/heading_000.png"].Masked)
}

func TestPassThroughFidelity(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.walker(t, 1).Run(context.Background())
	require.NoError(t, err)

	src := filepath.Join(h.in, "loc_001", "metadata.json")
	dst := filepath.Join(h.out, "loc_001", "metadata.json")

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Mode().Perm(), dstInfo.Mode().Perm())
	assert.True(t, srcInfo.ModTime().Equal(dstInfo.ModTime()))
}

func TestNoDetectionsWritesImageWithoutMask(t *testing.T) {
	h := newHarness(t, nil)
	summary, err := h.walker(t, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 0, summary.Masked)
	assert.Equal(t, 0, h.inpainter.Calls())

	out := filepath.Join(h.out, "loc_001")
	assert.NoFileExists(t, filepath.Join(out, "with_mask_heading_000.png"))
	img := readImage(t, filepath.Join(out, "inpainted_heading_000.png"))
	assert.Equal(t, testsupport.Gradient(100, 100).Pix, img.Pix)
}

func TestRerunIsResumable(t *testing.T) {
	h := newHarness(t, map[string][]types.DetectionBox{
		"people": {{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.9}},
	})
	_, err := h.walker(t, 2).Run(context.Background())
	require.NoError(t, err)

	detections := h.detector.Calls()
	inpaints := h.inpainter.Calls()
	maskPath := filepath.Join(h.out, "loc_001", "with_mask_heading_000.png")
	before, err := os.ReadFile(maskPath)
	require.NoError(t, err)

	// an interrupted item: mask written, image missing
	require.NoError(t, os.Remove(filepath.Join(h.out, "loc_002", "inpainted_heading_000.png")))

	summary, err := h.walker(t, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 1, summary.Failed)
	// only the interrupted item reached the collaborators
	assert.Equal(t, detections+2, h.detector.Calls())
	assert.Equal(t, inpaints+1, h.inpainter.Calls())

	after, err := os.ReadFile(maskPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.FileExists(t, filepath.Join(h.out, "loc_002", "inpainted_heading_000.png"))
}

func TestFailingPromptStillWritesOutput(t *testing.T) {
	h := newHarness(t, map[string][]types.DetectionBox{
		"car": {{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2, Confidence: 0.9}},
	})
	h.detector.Errs = map[string]error{"people": errors.New("model offline")}

	summary, err := h.walker(t, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Masked)
	assert.Equal(t, 1, h.recorder.byName()["loc_001/heading_000.png"].FailedSteps)
}

func TestPanickingInpainterDoesNotStopBatch(t *testing.T) {
	h := newHarness(t, map[string][]types.DetectionBox{
		"people": {{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.9}},
	})
	h.inpainter.Panics = 1

	summary, err := h.walker(t, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Masked)
	assert.Equal(t, 3, h.inpainter.Calls())

	crashed := 0
	for _, rec := range h.recorder.byName() {
		if rec.FailedSteps > 0 {
			crashed++
			assert.Equal(t, batch.StatusProcessed, rec.Status)
			assert.False(t, rec.Masked)
		}
	}
	assert.Equal(t, 1, crashed)
}

func TestSymlinkedLocationIsProcessed(t *testing.T) {
	h := newHarness(t, nil)
	target := filepath.Join(filepath.Dir(h.in), "elsewhere", "loc_003")
	writePNG(t, filepath.Join(target, "heading_180.png"), testsupport.Gradient(20, 20))
	require.NoError(t, os.Symlink(target, filepath.Join(h.in, "loc_link")))
	// a link to a file stays ignored
	require.NoError(t, os.Symlink(filepath.Join(h.in, "README.txt"), filepath.Join(h.in, "README.link")))

	summary, err := h.walker(t, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Locations)
	assert.Equal(t, 4, summary.Processed)
	assert.FileExists(t, filepath.Join(h.out, "loc_link", "inpainted_heading_180.png"))
	assert.NoFileExists(t, filepath.Join(h.out, "README.link"))
	assert.Equal(t, batch.StatusProcessed, h.recorder.byName()["loc_link/heading_180.png"].Status)
}

func TestLockedOutputRoot(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.MkdirAll(h.out, 0o755))

	other := flock.New(filepath.Join(h.out, batch.LockFileName))
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock()

	_, err = h.walker(t, 1).Run(context.Background())
	assert.ErrorIs(t, err, batch.ErrLocked)
	assert.Equal(t, 0, h.detector.Calls())
}

func TestRunRejectsMissingInput(t *testing.T) {
	h := newHarness(t, nil)
	h.in = filepath.Join(h.in, "missing")
	_, err := h.walker(t, 1).Run(context.Background())
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.walker(t, 1).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(h.out, "loc_001", "inpainted_heading_000.png"))
}

func TestCustomImageExtensions(t *testing.T) {
	h := newHarness(t, nil)
	pool, err := batch.NewPool(1, func(int) (*pipeline.Pipeline, error) {
		return pipeline.New(pipeline.Collaborators{
			Detector:  h.detector,
			Segmenter: &testsupport.Segmenter{},
			Inpainter: h.inpainter,
		}, pipeline.Options{Prompts: []string{"people"}}, logging.NewNop()), nil
	})
	require.NoError(t, err)
	defer pool.Close()

	w := batch.NewWalker(batch.Options{
		InputDir:        h.in,
		OutputDir:       h.out,
		ImageExtensions: []string{"jpg"},
	}, pool, nil, logging.NewNop())
	summary, err := w.Run(context.Background())
	require.NoError(t, err)

	// png files are now pass-through, broken.jpg is the only "image"
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, summary.Copied)
	assert.FileExists(t, filepath.Join(h.out, "loc_001", "heading_000.png"))
}
