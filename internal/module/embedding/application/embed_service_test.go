package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
	embtesting "github.com/pkhlop/nist-news-trec/internal/module/embedding/testing"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
	"github.com/pkhlop/nist-news-trec/internal/shared/jsonl"
)

func testEmbedConfig() EmbedConfig {
	cfg := DefaultEmbedConfig()
	cfg.Window = WindowConfig{ChunkSize: 4, Overlap: 1}
	cfg.BatchSize = 2
	cfg.GroupSize = 3
	return cfg
}

func runEmbed(t *testing.T, svc *EmbedService, input string) []string {
	t.Helper()
	var out bytes.Buffer
	err := svc.Run(context.Background(), jsonl.NewReader(strings.NewReader(input), jsonl.DefaultSentinel), jsonl.NewWriter(&out))
	require.NoError(t, err)

	text := strings.TrimSuffix(out.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestEmbedService_EmptyDocument(t *testing.T) {
	enc := embtesting.NewFakeEncoder(embtesting.TestCapability())
	cfg := testEmbedConfig()
	cfg.Signals = []string{"pooler_output"}

	svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, cfg)
	require.NoError(t, err)

	lines := runEmbed(t, svc, `{"id":"e","text":""}`+"\n")
	require.Len(t, lines, 1)

	rec := gjson.Parse(lines[0])
	assert.Equal(t, `[0,0]`, rec.Get("embedding_pooler_output_mean").Raw)
	assert.Equal(t, `[0,0]`, rec.Get("embedding_pooler_output_max").Raw)
	assert.Equal(t, `[0,0]`, rec.Get("embedding_pooler_output_min").Raw)
	assert.Equal(t, [][]string{{""}}, enc.Calls())
}

func TestEmbedService_EmptyDocumentTokenOnlySignals(t *testing.T) {
	enc := embtesting.NewFakeEncoder(embtesting.TestCapability(
		domain.Signal{Name: "last_hidden_state", Shape: domain.ShapeToken},
	))
	skips := &embtesting.SkipCollector{}
	cfg := testEmbedConfig()
	cfg.Window.Pad = true

	svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, cfg, WithSkipRecorder(skips))
	require.NoError(t, err)

	// パディング行は集約しないため、空文書は行を持たずスキップされる
	lines := runEmbed(t, svc, `{"id":"e","text":""}`+"\n"+`{"id":"f","text":"word"}`+"\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "f", gjson.Get(lines[0], "id").String())
	assert.Equal(t, []string{"e"}, skips.IDs())
	assert.Equal(t, domain.SkipReasonNoRows, skips.Records[0].Reason)
}

func TestEmbedService_Run(t *testing.T) {
	capability := embtesting.TestCapability()
	enc := embtesting.NewFakeEncoder(capability)
	enc.EncodeFunc = func(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
		for _, text := range texts {
			if strings.Contains(text, "poison") {
				return nil, errors.New("model crashed")
			}
		}
		return embtesting.DeterministicOutput(capability, texts, signals), nil
	}
	skips := &embtesting.SkipCollector{}

	cfg := testEmbedConfig()
	cfg.BatchSize = 1
	cfg.GroupSize = 10
	cfg.Concurrency = 2
	svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, cfg, WithSkipRecorder(skips))
	require.NoError(t, err)

	input := strings.Join([]string{
		`{"id":"1","title":"first","text":"  a b c d e f  "}`,
		`{"text":"no id"}`,
		`{"id":2,"text":"x y z poison"}`,
		`{"id":"3","text":null}`,
		`{"id":"1","text":"duplicate"}`,
		"\x00",
		`{"id":"4","text":"hello world","embedding_pooler_output_mean":[9]}`,
		`not json`,
	}, "\n") + "\n"

	lines := runEmbed(t, svc, input)
	require.Len(t, lines, 4)

	first := gjson.Parse(lines[0])
	assert.Equal(t, "1", first.Get("id").String())
	assert.Equal(t, "first", first.Get("title").String())
	assert.Equal(t, "  a b c d e f  ", first.Get("text").String())
	// 2ウィンドウ（4+3トークン）の全トークン行の平均
	assert.Equal(t, `[1,1.2857142857142858]`, first.Get("embedding_last_hidden_state_mean").Raw)
	assert.Equal(t, `[1,3]`, first.Get("embedding_last_hidden_state_max").Raw)
	assert.Equal(t, `[1,0]`, first.Get("embedding_last_hidden_state_min").Raw)
	assert.Equal(t, `[3.5,6]`, first.Get("embedding_pooler_output_mean").Raw)

	keys := []string{}
	first.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	assert.Equal(t, []string{
		"id", "title", "text",
		"embedding_last_hidden_state_mean", "embedding_last_hidden_state_max", "embedding_last_hidden_state_min",
		"embedding_pooler_output_mean", "embedding_pooler_output_max", "embedding_pooler_output_min",
	}, keys)

	// null テキストは空文書。token シグナルは行がないため window シグナルのみ
	third := gjson.Parse(lines[1])
	assert.Equal(t, "3", third.Get("id").String())
	assert.False(t, third.Get("embedding_last_hidden_state_mean").Exists())
	assert.Equal(t, `[0,0]`, third.Get("embedding_pooler_output_mean").Raw)

	assert.Equal(t, "\x00", lines[2])

	// 既存フィールドは上書きしない
	fourth := gjson.Parse(lines[3])
	assert.Equal(t, "4", fourth.Get("id").String())
	assert.Equal(t, `[9]`, fourth.Get("embedding_pooler_output_mean").Raw)
	assert.True(t, fourth.Get("embedding_pooler_output_max").Exists())

	assert.Equal(t, []string{"line:2", "1", "2", "line:8"}, skips.IDs())
	assert.Equal(t, domain.SkipReasonInvalidRecord, skips.Records[0].Reason)
	assert.Equal(t, domain.SkipReasonDuplicateID, skips.Records[1].Reason)
	assert.Equal(t, domain.SkipReasonModel, skips.Records[2].Reason)
	assert.Equal(t, domain.SkipReasonInvalidRecord, skips.Records[3].Reason)

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, 4, snap.DocumentsRead)
	assert.Equal(t, 3, snap.DocumentsEmitted)
	assert.Equal(t, 4, snap.DocumentsSkipped)
	assert.Equal(t, 1, snap.FailedBatches)
}

func TestEmbedService_SplitsOnResourceExhaustion(t *testing.T) {
	capability := embtesting.TestCapability()
	enc := embtesting.NewFakeEncoder(capability)
	enc.EncodeFunc = func(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
		if len(texts) > 1 {
			return nil, domain.ErrResourceExhausted
		}
		return embtesting.DeterministicOutput(capability, texts, signals), nil
	}

	cfg := testEmbedConfig()
	cfg.BatchSize = 4
	svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, cfg)
	require.NoError(t, err)

	lines := runEmbed(t, svc, `{"id":"a","text":"one two three four five six seven"}`+"\n")
	require.Len(t, lines, 1)
	assert.Greater(t, svc.Metrics().Snapshot().ResourceSplits, 0)
}

func TestEmbedService_ExhaustedWindowDropsOnlyItsDocument(t *testing.T) {
	capability := embtesting.TestCapability()
	enc := embtesting.NewFakeEncoder(capability)
	enc.EncodeFunc = func(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
		for _, text := range texts {
			if strings.Contains(text, "huge") {
				return nil, domain.ErrResourceExhausted
			}
		}
		return embtesting.DeterministicOutput(capability, texts, signals), nil
	}
	skips := &embtesting.SkipCollector{}
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, testEmbedConfig(), WithSkipRecorder(skips), WithLogger(log))
	require.NoError(t, err)

	lines := runEmbed(t, svc, `{"id":"A","text":"huge"}`+"\n"+`{"id":"B","text":"fine"}`+"\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "B", gjson.Get(lines[0], "id").String())

	// 2件のバッチ → 1件ずつ。右半分も推論される
	calls := enc.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 2)
	assert.Contains(t, calls[1][0], "huge")
	assert.Contains(t, calls[2][0], "fine")

	assert.Equal(t, []string{"A"}, skips.IDs())
	assert.Equal(t, domain.SkipReasonResourceExhausted, skips.Records[0].Reason)
	assert.ErrorIs(t, skips.Records[0].Err, domain.ErrModel)
	assert.Equal(t, 0, skips.Records[0].Batch)

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, 1, snap.DocumentsEmitted)
	assert.Equal(t, 1, snap.DocumentsSkipped)
	assert.Equal(t, 1, snap.FailedBatches)
	assert.Equal(t, 1, snap.ResourceSplits)

	assert.Contains(t, logs.String(), "Failed=1, FailedWindows=1, Splits=1")
	assert.Contains(t, logs.String(), "failedDocuments=[A]")
}

func TestEmbedService_Deterministic(t *testing.T) {
	input := `{"id":"d","text":"lorem ipsum dolor sit amet consectetur adipiscing elit"}` + "\n" +
		`{"id":"e","text":"sed do eiusmod tempor"}` + "\n"

	run := func() []string {
		enc := embtesting.NewFakeEncoder(embtesting.TestCapability())
		cfg := testEmbedConfig()
		cfg.Concurrency = 4
		svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, cfg)
		require.NoError(t, err)
		return runEmbed(t, svc, input)
	}

	assert.Equal(t, run(), run())
}

func TestEmbedService_Cancelled(t *testing.T) {
	enc := embtesting.NewFakeEncoder(embtesting.TestCapability())
	svc, err := NewEmbedService(enc, embtesting.WhitespaceTokenizer{}, testEmbedConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err = svc.Run(ctx, jsonl.NewReader(strings.NewReader(`{"id":"a","text":"x"}`+"\n"), ""), jsonl.NewWriter(&out))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestNewEmbedService_ConfigErrors(t *testing.T) {
	capability := embtesting.TestCapability()
	capability.MaxBatchSize = 8

	tests := []struct {
		name   string
		modify func(*EmbedConfig)
	}{
		{name: "zero batch size", modify: func(c *EmbedConfig) { c.BatchSize = 0 }},
		{name: "batch size above model limit", modify: func(c *EmbedConfig) { c.BatchSize = 9 }},
		{name: "zero group size", modify: func(c *EmbedConfig) { c.GroupSize = 0 }},
		{name: "empty text field", modify: func(c *EmbedConfig) { c.TextField = " " }},
		{name: "overlap too large", modify: func(c *EmbedConfig) { c.Window.Overlap = c.Window.ChunkSize }},
		{name: "unknown signal", modify: func(c *EmbedConfig) { c.Signals = []string{"attentions"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEmbedConfig()
			tt.modify(&cfg)
			_, err := NewEmbedService(embtesting.NewFakeEncoder(capability), embtesting.WhitespaceTokenizer{}, cfg)
			assert.ErrorIs(t, err, apperr.ErrConfiguration)
		})
	}
}
