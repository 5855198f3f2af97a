package container

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embtesting "github.com/pkhlop/nist-news-trec/internal/module/embedding/testing"
	"github.com/pkhlop/nist-news-trec/internal/platform/config"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testConfigWithHealth(t, http.StatusOK)
}

// testConfigWithHealth は /health に status を返す推論サーバーを向いた設定を作る
func testConfigWithHealth(t *testing.T, status int) *config.Config {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return &config.Config{
		Encoder: config.EncoderConfig{
			URL:         server.URL,
			DeviceSlots: 2,
		},
		SkipLogDir: t.TempDir(),
	}
}

func TestNew_WithInjectedEncoder(t *testing.T) {
	enc := embtesting.NewFakeEncoder(embtesting.TestCapability())

	c, err := New(testConfig(t), EncoderParams{},
		WithContainerRunID("run-1"),
		WithContainerEncoder(enc),
		WithContainerTokenizer(embtesting.WhitespaceTokenizer{}),
	)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "run-1", c.RunID)
	assert.Equal(t, enc.Capability(), c.Encoder.Capability())
	assert.Equal(t, 2, c.Encoder.Status().Slots)
	assert.NotEmpty(t, c.Skips.Path())
	assert.NotNil(t, c.Catalog)
}

func TestNew_InferenceFromCatalog(t *testing.T) {
	c, err := New(testConfig(t), EncoderParams{Model: "bert-base-uncased"},
		WithContainerTokenizer(embtesting.WhitespaceTokenizer{}),
	)
	require.NoError(t, err)
	defer c.Close()

	assert.NotEmpty(t, c.RunID)
	capability := c.Encoder.Capability()
	assert.Equal(t, "bert-base-uncased", capability.Model)
	assert.Equal(t, "[CLS]", capability.StartMarker)
	_, ok := capability.Signal("pooler_output")
	assert.True(t, ok)
}

func TestNew_HealthCheckFailure(t *testing.T) {
	cfg := testConfigWithHealth(t, http.StatusServiceUnavailable)

	_, err := New(cfg, EncoderParams{Model: "bert-base-uncased"},
		WithContainerTokenizer(embtesting.WhitespaceTokenizer{}),
	)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "encoder health check")
	assert.Contains(t, err.Error(), "status 503")
}

func TestNew_InjectedEncoderSkipsHealthCheck(t *testing.T) {
	cfg := testConfigWithHealth(t, http.StatusServiceUnavailable)

	c, err := New(cfg, EncoderParams{},
		WithContainerEncoder(embtesting.NewFakeEncoder(embtesting.TestCapability())),
		WithContainerTokenizer(embtesting.WhitespaceTokenizer{}),
	)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestNew_ProviderOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encoder.Provider = "inference"

	c, err := New(cfg, EncoderParams{Model: "text-embedding-3-small"},
		WithContainerTokenizer(embtesting.WhitespaceTokenizer{}),
	)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "text-embedding-3-small", c.Encoder.Capability().Model)
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		params EncoderParams
		modify func(*config.Config)
	}{
		{name: "unknown model", params: EncoderParams{Model: "gpt-5"}},
		{name: "unknown provider", params: EncoderParams{Model: "gpt2", Provider: "local"}},
		{name: "openai without key", params: EncoderParams{Model: "text-embedding-3-small"}},
		{name: "missing catalog", params: EncoderParams{Model: "gpt2"}, modify: func(c *config.Config) {
			c.Encoder.Catalog = "/nonexistent/catalog.yaml"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.modify != nil {
				tt.modify(cfg)
			}
			_, err := New(cfg, tt.params, WithContainerTokenizer(embtesting.WhitespaceTokenizer{}))
			assert.ErrorIs(t, err, apperr.ErrConfiguration)
		})
	}
}
