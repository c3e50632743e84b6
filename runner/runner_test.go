package runner

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKLDiv(t *testing.T) {
	for output, expected := range map[string]float64{
		"-- Measuring...\nKL divergence (A, B): 0.0132\ndone": 0.0132,
		"K/L divergence: 1.5e-3":                              0.0015,
		"kl divergence: 2":                                    2,
		"KL divergence (A, B): inf":                           math.Inf(1),
	} {
		value, err := parseMetric(klDivPattern, output, "KL divergence")
		require.NoError(t, err, output)
		assert.Equal(t, expected, value, output)
	}

	value, err := parseMetric(klDivPattern, "KL divergence (A, B): nan", "KL divergence")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(value))
}

func TestParsePerplexity(t *testing.T) {
	value, err := parseMetric(perplexityPattern, "-- 100 rows\nPerplexity: 10.3385\n", "Perplexity")
	require.NoError(t, err)
	assert.Equal(t, 10.3385, value)
}

func TestParseMissingPattern(t *testing.T) {
	_, err := parseMetric(perplexityPattern, "no result lines here", "Perplexity")
	assert.ErrorContains(t, err, "Perplexity")
}

// fakeTool writes an executable script standing in for the python tooling.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python3")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

func TestExecRunnerMeasurePerplexity(t *testing.T) {
	r := &ExecRunner{Python: fakeTool(t, `echo "Perplexity: 9.875"`)}

	var streamed strings.Builder
	value, err := r.MeasurePerplexity(context.Background(), "/models/llama/4", 0, 100, &streamed)
	require.NoError(t, err)
	assert.Equal(t, 9.875, value)

	// Output is streamed live as well as captured for parsing.
	assert.Contains(t, streamed.String(), "Perplexity: 9.875")
}

func TestExecRunnerMeasureKLDiv(t *testing.T) {
	r := &ExecRunner{Python: fakeTool(t, `echo "KL divergence (A, B): 0.042"`)}

	value, err := r.MeasureKLDiv(context.Background(), "/models/llama", "/models/llama/4", 1, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.042, value)
}

func TestExecRunnerToolFailure(t *testing.T) {
	r := &ExecRunner{Python: fakeTool(t, `echo "cuda error: out of memory"; exit 1`)}

	_, err := r.MeasurePerplexity(context.Background(), "/models/llama/4", 0, 100, nil)
	require.Error(t, err)
	// The captured output rides along in the error for the ledger row.
	assert.ErrorContains(t, err, "out of memory")
}

func TestExecRunnerUnparsableOutput(t *testing.T) {
	r := &ExecRunner{Python: fakeTool(t, `echo "loading model..."`)}

	_, err := r.MeasurePerplexity(context.Background(), "/models/llama/4", 0, 100, nil)
	assert.ErrorContains(t, err, "Perplexity")
}

func TestModelSizeGiB(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model-00001.safetensors"), make([]byte, 1<<20), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model-00002.safetensors"), make([]byte, 1<<20), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), make([]byte, 1<<20), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "nested.safetensors"), make([]byte, 1<<20), 0644))

	// Only top-level .safetensors count.
	assert.InDelta(t, 2.0/1024, ModelSizeGiB(dir), 1e-9)
}

func TestModelSizeGiBMissingDir(t *testing.T) {
	assert.Zero(t, ModelSizeGiB(filepath.Join(t.TempDir(), "missing")))
}
