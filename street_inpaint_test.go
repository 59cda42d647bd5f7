package streetinpaint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/street-inpaint/internal/config"
	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/internal/testsupport"
	"github.com/menta2k/street-inpaint/pkg/batch"
	"github.com/menta2k/street-inpaint/pkg/inpainting"
	"github.com/menta2k/street-inpaint/pkg/llamacpp"
	"github.com/menta2k/street-inpaint/pkg/ollama"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/segmentation"
)

// fakeGrounder answers llama.cpp chat requests with one box for "people" and
// nothing for any other prompt.
func fakeGrounder(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil || r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		answer := `{"objects": []}`
		if bytes.Contains(body, []byte("instance of: people.")) {
			answer = `{"objects": [{"label": "person", "confidence": 0.9, "label_confidence": 0.8, "box": {"cx": 0.5, "cy": 0.5, "w": 0.4, "h": 0.4}}]}`
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func localConfig(t *testing.T, grounderURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths.InputDir = filepath.Join(root, "in")
	cfg.Paths.OutputDir = filepath.Join(root, "out")
	cfg.Detection.Backend = "llamacpp"
	cfg.Detection.URL = grounderURL
	cfg.Segmentation.Backend = "box"
	cfg.Inpainting.Backend = "meanfill"
	cfg.Pipeline.Prompts = []string{"people", "car"}
	cfg.Pipeline.Workers = 2
	return &cfg
}

func TestNewVisionClient(t *testing.T) {
	cfg := config.Default()

	vc, err := NewVisionClient(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, vc)

	cfg.Detection.Backend = "llamacpp"
	vc, err = NewVisionClient(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &llamacpp.Client{}, vc)

	cfg.Detection.Backend = "openai"
	_, err = NewVisionClient(&cfg)
	assert.ErrorContains(t, err, "unknown detection backend")

	cfg.Detection.Backend = "ollama"
	cfg.Detection.URL = "localhost"
	_, err = NewVisionClient(&cfg)
	assert.Error(t, err)
}

func TestNewSegmenterAndInpainter(t *testing.T) {
	cfg := config.Default()

	seg, err := NewSegmenter(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &segmentation.HTTPSegmenter{}, seg)

	cfg.Segmentation.Backend = "box"
	seg, err = NewSegmenter(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &segmentation.BoxSegmenter{}, seg)

	cfg.Segmentation.Backend = "sam3"
	_, err = NewSegmenter(&cfg)
	assert.ErrorContains(t, err, "unknown segmentation backend")

	inp, err := NewInpainter(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &inpainting.HTTPInpainter{}, inp)

	cfg.Inpainting.Backend = "meanfill"
	inp, err = NewInpainter(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &inpainting.MeanFillInpainter{}, inp)

	cfg.Inpainting.Backend = "telea"
	_, err = NewInpainter(&cfg)
	assert.ErrorContains(t, err, "unknown inpainting backend")
}

func TestPipelineFactoryBuildsIndependentPipelines(t *testing.T) {
	cfg := localConfig(t, "http://localhost:8080")
	factory := NewPipelineFactory(cfg, logging.NewNop())

	a, err := factory(0)
	require.NoError(t, err)
	b, err := factory(1)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, []string{"people", "car"}, a.Prompts())

	cfg.Segmentation.Backend = "nope"
	_, err = factory(2)
	assert.Error(t, err)
}

func TestWalkerEndToEnd(t *testing.T) {
	srv := fakeGrounder(t)
	cfg := localConfig(t, srv.URL)

	src := filepath.Join(cfg.Paths.InputDir, "loc_001", "heading_000.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, processing.NewProcessor().SaveImage(testsupport.Gradient(40, 30), src))

	walker, pool, err := NewWalker(cfg, batch.Options{}, logging.NewNop())
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, 2, pool.Size())

	summary, err := walker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Locations)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Masked)
	assert.Zero(t, summary.Failed)

	outDir := filepath.Join(cfg.Paths.OutputDir, "loc_001")
	assert.FileExists(t, filepath.Join(outDir, batch.InpaintedPrefix+"heading_000.png"))
	assert.FileExists(t, filepath.Join(outDir, batch.MaskPrefix+"heading_000.png"))
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, Version, GetVersion())
}
