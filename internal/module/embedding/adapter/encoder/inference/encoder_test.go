package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

func testCapability() domain.Capability {
	return domain.Capability{
		Model: "bert-base-uncased",
		Signals: []domain.Signal{
			{Name: "last_hidden_state", Shape: domain.ShapeToken},
			{Name: "pooler_output", Shape: domain.ShapeWindow},
		},
		PadToken: "[PAD]",
	}
}

func newTestEncoder(t *testing.T, handler http.HandlerFunc) *Encoder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	enc, err := New(Config{
		BaseURL:    srv.URL + "/",
		Device:     domain.DeviceAccelerator,
		Capability: testCapability(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })
	return enc
}

func TestEncoder_Encode(t *testing.T) {
	enc := newTestEncoder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/extract", r.URL.Path)

		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bert-base-uncased", req.Model)
		assert.Equal(t, "cuda", req.Device)
		assert.Equal(t, []string{"hello world", ""}, req.Inputs)
		assert.Equal(t, []string{"last_hidden_state", "pooler_output"}, req.Signals)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signals":{
			"last_hidden_state":[[[0.1,0.2],[0.3,0.4]],[]],
			"pooler_output":[[[1,2]],[[3,4]]]
		}}`))
	})

	out, err := enc.Encode(context.Background(), []string{"hello world", ""}, []string{"last_hidden_state", "pooler_output"})
	require.NoError(t, err)

	require.Len(t, out["last_hidden_state"], 2)
	assert.Equal(t, domain.Representation{{0.1, 0.2}, {0.3, 0.4}}, out["last_hidden_state"][0])
	assert.Empty(t, out["last_hidden_state"][1])
	assert.Equal(t, domain.Representation{{3, 4}}, out["pooler_output"][1])
}

func TestEncoder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		notWant error
	}{
		{
			name:    "insufficient storage",
			status:  http.StatusInsufficientStorage,
			body:    `{"error":{"code":"cuda","message":"CUDA out of memory"}}`,
			want:    domain.ErrResourceExhausted,
			notWant: domain.ErrModel,
		},
		{
			name:    "out of memory code",
			status:  http.StatusInternalServerError,
			body:    `{"error":{"code":"out_of_memory","message":"allocation failed"}}`,
			want:    domain.ErrResourceExhausted,
			notWant: domain.ErrModel,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `internal error`,
			want:    domain.ErrModel,
			notWant: domain.ErrResourceExhausted,
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{"signals":`,
			want:    domain.ErrModel,
			notWant: domain.ErrResourceExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newTestEncoder(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := enc.Encode(context.Background(), []string{"x"}, []string{"pooler_output"})
			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, tt.notWant)
		})
	}
}

func TestEncoder_Ping(t *testing.T) {
	enc := newTestEncoder(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, enc.Ping(context.Background()))
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
