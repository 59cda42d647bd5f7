package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/street-inpaint/internal/config"
	"github.com/menta2k/street-inpaint/internal/testsupport"
	"github.com/menta2k/street-inpaint/pkg/processing"
)

type cliTestEnv struct {
	configPath string
	inputDir   string
	outputDir  string
	stateDir   string
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// setupCLITestEnv writes a config that uses the local segmentation and
// inpainting backends and a fake llama.cpp server that finds nothing.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": `{"objects": []}`},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	env := &cliTestEnv{
		configPath: filepath.Join(base, "config.toml"),
		inputDir:   filepath.Join(base, "in"),
		outputDir:  filepath.Join(base, "out"),
		stateDir:   filepath.Join(base, "state"),
	}

	cfg := config.Default()
	cfg.Paths.InputDir = env.inputDir
	cfg.Paths.OutputDir = env.outputDir
	cfg.Paths.StateDir = env.stateDir
	cfg.Detection.Backend = "llamacpp"
	cfg.Detection.URL = srv.URL
	cfg.Segmentation.Backend = "box"
	cfg.Inpainting.Backend = "meanfill"
	cfg.Logging.Format = "json"
	require.NoError(t, cfg.SaveToFile(env.configPath))

	loc := filepath.Join(env.inputDir, "loc_001")
	require.NoError(t, os.MkdirAll(loc, 0o755))
	require.NoError(t, processing.NewProcessor().SaveImage(testsupport.Gradient(24, 16), filepath.Join(loc, "heading_000.png")))
	require.NoError(t, os.WriteFile(filepath.Join(loc, "metadata.json"), []byte(`{"lat": 42.7}`), 0o644))
	return env
}

func TestRunThenReport(t *testing.T) {
	env := setupCLITestEnv(t)

	out, stderr, err := runCLI(t, "run", "--config", env.configPath, "--no-progress", "--prompt", "people")
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "Processed:  1 (0 masked)")
	assert.Contains(t, out, "Copied:     1")
	assert.Contains(t, stderr, `"msg":"batch finished"`)
	assert.FileExists(t, filepath.Join(env.outputDir, "loc_001", "inpainted_heading_000.png"))
	assert.NoFileExists(t, filepath.Join(env.outputDir, "loc_001", "with_mask_heading_000.png"))
	assert.FileExists(t, filepath.Join(env.outputDir, "loc_001", "metadata.json"))
	assert.FileExists(t, filepath.Join(env.stateDir, "journal.db"))

	// second run resumes
	out, _, err = runCLI(t, "run", "--config", env.configPath, "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped:    1")

	out, _, err = runCLI(t, "report", "--config", env.configPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "completed"), out)

	out, _, err = runCLI(t, "report", "latest", "--config", env.configPath, "--status", "copied")
	require.NoError(t, err)
	assert.Contains(t, out, "1 item(s)")
	assert.Contains(t, out, "metadata.json")
	assert.NotContains(t, out, "heading_000.png")
}

func TestRunRequiresInput(t *testing.T) {
	env := setupCLITestEnv(t)
	cfg, _, _, err := config.Load(env.configPath)
	require.NoError(t, err)
	cfg.Paths.InputDir = ""
	require.NoError(t, cfg.SaveToFile(env.configPath))

	_, _, err = runCLI(t, "run", "--config", env.configPath, "--no-journal")
	assert.ErrorContains(t, err, "input directory is required")
}

func TestRunRejectsInvalidOverride(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, "run", "--config", env.configPath, "--device", "tpu")
	assert.ErrorContains(t, err, "runtime.device")
}

func TestReportWithoutJournal(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, "report", "--config", env.configPath)
	assert.ErrorContains(t, err, "no journal")
}

func TestConfigInitShowValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")
	assert.FileExists(t, target)

	_, _, err = runCLI(t, "config", "init", "--path", target)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = runCLI(t, "config", "init", "--path", target, "--overwrite")
	require.NoError(t, err)

	out, _, err = runCLI(t, "config", "show", "--config", target, "--log-level", "DEBUG")
	require.NoError(t, err)
	assert.Contains(t, out, "[pipeline]")
	assert.Contains(t, out, "car and its shadow")
	assert.Regexp(t, `level = ['"]debug['"]`, out)

	out, _, err = runCLI(t, "config", "validate", "--config", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}
