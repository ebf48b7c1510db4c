package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verdict/internal/model"
)

func TestLoadConfig_Precedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".verdict"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".verdict", "config.yaml"), []byte(`
routing:
  policy_confidence_threshold: 0.8
  evidence_top_k: 7
  stage_timeouts:
    factuality_assessment: 1m
store:
  path: /tmp/verdict-test.db
`), 0o644))
	t.Setenv("VERDICT_ROUTING_EVIDENCE_TOP_K", "3")

	initConfig()
	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Routing.PolicyConfidenceThreshold, "file overrides default")
	assert.Equal(t, 3, cfg.Routing.EvidenceTopK, "env overrides file")
	assert.Equal(t, time.Minute, cfg.Routing.Timeout(model.StageFactualityAssessment))
	assert.Equal(t, 10*time.Second, cfg.Routing.Timeout(model.StageClaimExtraction), "untouched defaults survive")
	assert.Equal(t, "/tmp/verdict-test.db", cfg.Store.Path)
	assert.Equal(t, 0.6, cfg.Routing.RiskConfidenceThreshold)
	assert.NoError(t, cfg.Routing.Validate())
}

func TestFlatten(t *testing.T) {
	tree := map[string]any{
		"routing": map[string]any{
			"evidence_top_k": 10,
			"stage_timeouts": map[string]any{"claim_extraction": "10s"},
		},
		"verbose": false,
		"empty":   map[string]any{},
	}

	flat := flatten("", tree)
	assert.Equal(t, map[string]any{
		"routing.evidence_top_k":                  10,
		"routing.stage_timeouts.claim_extraction": "10s",
		"verbose": false,
		"empty":   map[string]any{},
	}, flat)
}

func TestReadTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.txt")
	require.NoError(t, os.WriteFile(path, []byte("  from file \n"), 0o644))

	text, err := readTranscript([]string{"Vaccines", "cause", "autism"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Vaccines cause autism", text)

	text, err = readTranscript(nil, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", text)

	text, err = readTranscript(nil, "-", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)

	_, err = readTranscript(nil, "", nil)
	assert.Error(t, err)

	_, err = readTranscript([]string{"   "}, "", nil)
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"line-3":                 "line-3",
		"a/b:c":                  "a_b_c",
		"my run id":              "my-run-id",
		"..":                     "run",
		"":                       "run",
		strings.Repeat("x", 150): strings.Repeat("x", 100),
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}
