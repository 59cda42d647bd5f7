// Package batch walks a tree of capture locations, runs the removal pipeline
// over every image and mirrors the tree into the output root. Runs are
// resumable: an image whose inpainted artifact exists is skipped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/internal/utils"
	"github.com/menta2k/street-inpaint/pkg/pipeline"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// Artifact naming.
const (
	InpaintedPrefix = "inpainted_"
	MaskPrefix      = "with_mask_"
	DebugPrefix     = "debug_"
	LockFileName    = ".street-inpaint.lock"
)

// ErrLocked is returned when another run holds the output root.
var ErrLocked = errors.New("output directory is locked by another run")

// ItemStatus is the outcome of one file.
type ItemStatus string

const (
	StatusProcessed ItemStatus = "processed"
	StatusSkipped   ItemStatus = "skipped"
	StatusCopied    ItemStatus = "copied"
	StatusFailed    ItemStatus = "failed"
)

// ItemRecord describes what happened to one file.
type ItemRecord struct {
	Location    string
	Name        string
	Kind        types.FileKind
	Status      ItemStatus
	Masked      bool
	FailedSteps int
	Err         error
	Duration    time.Duration
}

// Recorder receives one record per file. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordItem(ctx context.Context, rec ItemRecord) error
}

// Options configure a Walker.
type Options struct {
	InputDir        string
	OutputDir       string
	ImageExtensions []string
	Workers         int
	DebugOverlay    bool
	// Progress, when non-nil, receives a progress bar per location.
	Progress io.Writer
	Recorder Recorder
}

// Summary counts the outcomes of a run.
type Summary struct {
	Locations        int
	SkippedLocations int
	Processed        int
	Masked           int
	Skipped          int
	Copied           int
	Failed           int
	Duration         time.Duration
}

// Walker drives a batch run.
type Walker struct {
	opts      Options
	pool      *Pool
	processor *processing.Processor
	logger    *slog.Logger

	mu      sync.Mutex
	summary Summary
}

// NewWalker creates a walker. pool supplies one pipeline per worker.
func NewWalker(opts Options, pool *Pool, processor *processing.Processor, logger *slog.Logger) *Walker {
	if opts.Workers <= 0 {
		opts.Workers = pool.Size()
	}
	if processor == nil {
		processor = processing.NewProcessor()
	}
	return &Walker{
		opts:      opts,
		pool:      pool,
		processor: processor,
		logger:    logging.NewComponentLogger(logger, "batch"),
	}
}

// Run processes every location under the input root. Per-file failures are
// logged and counted; Run only fails when the batch cannot start or ctx is
// cancelled.
func (w *Walker) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	w.summary = Summary{}

	inputRoot, err := filepath.Abs(w.opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve input dir: %w", err)
	}
	outputRoot, err := filepath.Abs(w.opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if inputRoot == outputRoot {
		return nil, fmt.Errorf("output directory must differ from input directory %s", inputRoot)
	}
	if !utils.DirExists(inputRoot) {
		return nil, fmt.Errorf("input directory %s does not exist", inputRoot)
	}
	if err := utils.EnsureDir(outputRoot); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(filepath.Join(outputRoot, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, outputRoot)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			w.logger.Warn("failed to release output lock", logging.Error(err))
		}
	}()

	entries, err := os.ReadDir(inputRoot)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return w.finish(start), err
		}
		if !isDir(inputRoot, entry) {
			w.logger.Debug("ignoring file at input root", slog.String(logging.FieldFile, entry.Name()))
			continue
		}
		if filepath.Join(inputRoot, entry.Name()) == outputRoot {
			continue
		}
		if err := w.processLocation(ctx, inputRoot, outputRoot, entry.Name()); err != nil {
			return w.finish(start), err
		}
	}

	summary := w.finish(start)
	w.logger.Info("batch finished",
		slog.Int("locations", summary.Locations),
		slog.Int("processed", summary.Processed),
		slog.Int("masked", summary.Masked),
		slog.Int("skipped", summary.Skipped),
		slog.Int("copied", summary.Copied),
		slog.Int("failed", summary.Failed),
		slog.Duration("elapsed", summary.Duration),
	)
	return summary, nil
}

func (w *Walker) finish(start time.Time) *Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.summary
	s.Duration = time.Since(start)
	return &s
}

// isDir reports whether entry is a directory, following symlinks.
func isDir(root string, entry os.DirEntry) bool {
	if entry.Type()&os.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}

// processLocation handles one capture location. Only ctx cancellation is
// returned as an error.
func (w *Walker) processLocation(ctx context.Context, inputRoot, outputRoot, location string) error {
	logger := w.logger.With(slog.String(logging.FieldLocation, location))
	srcDir := filepath.Join(inputRoot, location)
	dstDir := filepath.Join(outputRoot, location)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		logger.Error("failed to create output location, skipping", logging.Error(err))
		w.count(func(s *Summary) { s.SkippedLocations++ })
		return nil
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		logger.Error("failed to read location, skipping", logging.Error(err))
		w.count(func(s *Summary) { s.SkippedLocations++ })
		return nil
	}
	w.count(func(s *Summary) { s.Locations++ })

	var images []types.BatchItem
	for _, e := range entries {
		if e.IsDir() {
			logger.Debug("ignoring nested directory", slog.String(logging.FieldFile, e.Name()))
			continue
		}
		item := types.BatchItem{
			SourcePath: filepath.Join(srcDir, e.Name()),
			RelPath:    filepath.Join(location, e.Name()),
			Location:   location,
			Name:       e.Name(),
			Kind:       types.KindPassThrough,
		}
		if utils.IsImageFile(e.Name(), w.opts.ImageExtensions) {
			item.Kind = types.KindImage
			images = append(images, item)
			continue
		}
		w.copyPassThrough(ctx, item, dstDir, logger)
	}

	bar := w.newBar(location, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for _, item := range images {
		g.Go(func() error {
			rec := w.processImage(gctx, item, dstDir, logger)
			if err := gctx.Err(); err != nil {
				return err
			}
			w.record(gctx, rec, logger)
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (w *Walker) newBar(location string, n int) *progressbar.ProgressBar {
	if w.opts.Progress == nil || n == 0 {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w.opts.Progress),
		progressbar.OptionSetDescription(location),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

func (w *Walker) copyPassThrough(ctx context.Context, item types.BatchItem, dstDir string, logger *slog.Logger) {
	start := time.Now()
	rec := ItemRecord{Location: item.Location, Name: item.Name, Kind: item.Kind, Status: StatusCopied}
	if err := utils.CopyFile(item.SourcePath, filepath.Join(dstDir, item.Name)); err != nil {
		rec.Status = StatusFailed
		rec.Err = fmt.Errorf("%w: copy: %w", pipeline.ErrIO, err)
	}
	rec.Duration = time.Since(start)
	w.record(ctx, rec, logger)
}

// processImage runs one image through a pooled pipeline and writes its
// artifacts. The mask is written before the image so an interrupted item
// has no inpainted artifact and is retried on the next run.
func (w *Walker) processImage(ctx context.Context, item types.BatchItem, dstDir string, logger *slog.Logger) (rec ItemRecord) {
	start := time.Now()
	rec = ItemRecord{Location: item.Location, Name: item.Name, Kind: item.Kind}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing image", slog.String(logging.FieldFile, item.Name), slog.Any("panic", r))
			rec.Status = StatusFailed
			rec.Err = fmt.Errorf("panic: %v", r)
			rec.Duration = time.Since(start)
		}
	}()

	outPath := utils.GenerateOutputFilename(item.Name, dstDir, InpaintedPrefix, "", "")
	if utils.FileExists(outPath) {
		rec.Status = StatusSkipped
		rec.Duration = time.Since(start)
		return rec
	}

	fail := func(err error) ItemRecord {
		rec.Status = StatusFailed
		rec.Err = err
		rec.Duration = time.Since(start)
		return rec
	}

	img, err := w.processor.LoadImage(item.SourcePath)
	if err != nil {
		return fail(fmt.Errorf("decode: %w", err))
	}

	res, err := w.runPipeline(ctx, img)
	if err != nil {
		return fail(err)
	}
	rec.FailedSteps = len(res.Failed())

	if res.Composite != nil {
		rec.Masked = true
		if err := w.processor.SaveMask(res.Composite, utils.GenerateOutputFilename(item.Name, dstDir, MaskPrefix, "", "png")); err != nil {
			return fail(fmt.Errorf("%w: write mask: %w", pipeline.ErrIO, err))
		}
		if w.opts.DebugOverlay {
			overlay := w.processor.CreateDebugOverlay(img, res.Composite, res.Boxes())
			if err := w.processor.SaveImage(overlay, utils.GenerateOutputFilename(item.Name, dstDir, DebugPrefix, "", "png")); err != nil {
				logger.Warn("failed to write debug overlay", slog.String(logging.FieldFile, item.Name), logging.Error(err))
			}
		}
	}
	if err := w.processor.SaveImage(res.Image, outPath); err != nil {
		return fail(fmt.Errorf("%w: write image: %w", pipeline.ErrIO, err))
	}

	rec.Status = StatusProcessed
	rec.Duration = time.Since(start)
	return rec
}

// runPipeline returns the pipeline to the pool even when Run panics.
func (w *Walker) runPipeline(ctx context.Context, img image.Image) (*pipeline.Result, error) {
	pl, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer w.pool.Release(pl)
	return pl.Run(ctx, img)
}

func (w *Walker) record(ctx context.Context, rec ItemRecord, logger *slog.Logger) {
	w.count(func(s *Summary) {
		switch rec.Status {
		case StatusProcessed:
			s.Processed++
			if rec.Masked {
				s.Masked++
			}
		case StatusSkipped:
			s.Skipped++
		case StatusCopied:
			s.Copied++
		case StatusFailed:
			s.Failed++
		}
	})

	attrs := []any{
		slog.String(logging.FieldFile, rec.Name),
		slog.String("status", string(rec.Status)),
	}
	switch rec.Status {
	case StatusFailed:
		logger.Error("item failed", append(attrs, logging.Error(rec.Err))...)
	case StatusProcessed:
		logger.Info("image processed", append(attrs,
			slog.Bool("masked", rec.Masked),
			slog.Int("failed_steps", rec.FailedSteps),
			slog.Duration("elapsed", rec.Duration))...)
	default:
		logger.Debug("item done", attrs...)
	}

	if w.opts.Recorder != nil {
		if err := w.opts.Recorder.RecordItem(ctx, rec); err != nil {
			logger.Warn("failed to record item", slog.String(logging.FieldFile, rec.Name), logging.Error(err))
		}
	}
}

func (w *Walker) count(fn func(*Summary)) {
	w.mu.Lock()
	fn(&w.summary)
	w.mu.Unlock()
}
