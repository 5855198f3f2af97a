package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// MaxBatchSize はAPIが1リクエストで受け付ける最大件数
	MaxBatchSize = 100
	// SignalPooled は1ウィンドウ1ベクトルのシグナル名
	SignalPooled = "pooler_output"
)

var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

// Encoder は OpenAI Embeddings API を使用してウィンドウをベクトルに変換する
type Encoder struct {
	client     openai.Client
	capability domain.Capability
	dimension  int
}

type encoderOptions struct {
	model      string
	dimension  int
	baseURL    string
	maxRetries int
	capability *domain.Capability
}

// EncoderOption は Encoder のオプション設定
type EncoderOption func(*encoderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EncoderOption {
	return func(o *encoderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする（0はモデルのデフォルト）
func WithEmbeddingDimension(dimension int) EncoderOption {
	return func(o *encoderOptions) {
		o.dimension = dimension
	}
}

// WithBaseURL はAPIのURLを上書きする（互換サーバー向け）
func WithBaseURL(url string) EncoderOption {
	return func(o *encoderOptions) {
		o.baseURL = url
	}
}

// WithMaxRetries はクライアントの再試行回数を上書きする
func WithMaxRetries(n int) EncoderOption {
	return func(o *encoderOptions) {
		o.maxRetries = n
	}
}

// WithCapability はカタログの能力記述子を使う
func WithCapability(capability domain.Capability) EncoderOption {
	return func(o *encoderOptions) {
		o.capability = &capability
	}
}

// New は新しい Encoder を作成する
func New(apiKey string, opts ...EncoderOption) (*Encoder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := encoderOptions{
		model:      DefaultEmbeddingModel,
		maxRetries: -1,
	}
	for _, opt := range opts {
		opt(&options)
	}

	capability := domain.Capability{
		Model:         options.model,
		Signals:       []domain.Signal{{Name: SignalPooled, Shape: domain.ShapeWindow}},
		MaxBatchSize:  MaxBatchSize,
		TokenEncoding: "cl100k_base",
	}
	if options.capability != nil {
		capability = *options.capability
		if capability.MaxBatchSize <= 0 || capability.MaxBatchSize > MaxBatchSize {
			capability.MaxBatchSize = MaxBatchSize
		}
	}
	if _, ok := capability.Signal(SignalPooled); !ok || len(capability.Signals) != 1 {
		return nil, fmt.Errorf("openai encoder only provides the %s signal", SignalPooled)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}
	if options.maxRetries >= 0 {
		clientOpts = append(clientOpts, option.WithMaxRetries(options.maxRetries))
	}

	return &Encoder{
		client:     openai.NewClient(clientOpts...),
		capability: capability,
		dimension:  options.dimension,
	}, nil
}

// Capability は能力記述子を返す
func (e *Encoder) Capability() domain.Capability {
	return e.capability
}

// Encode はバッチで Embedding を生成する
// 各ウィンドウにつき1行の pooler_output を返す
func (e *Encoder) Encode(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
	for _, s := range signals {
		if s != SignalPooled {
			return nil, fmt.Errorf("%w: signal %s is not provided by %s", domain.ErrModel, s, e.capability.Model)
		}
	}
	if len(texts) == 0 {
		return map[string][]domain.Representation{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds maximum of %d", domain.ErrResourceExhausted, len(texts), MaxBatchSize)
	}

	// APIは空文字列を受け付けない
	inputs := make([]string, len(texts))
	for i, text := range texts {
		if text == "" {
			text = " "
		}
		inputs[i] = text
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.capability.Model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusRequestEntityTooLarge {
			return nil, fmt.Errorf("%w: failed to generate embeddings: %w", domain.ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrModel, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	reps := make([]domain.Representation, len(data))
	for i, d := range data {
		vector := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vector[j] = float32(v)
		}
		reps[i] = domain.Representation{vector}
	}

	out := make(map[string][]domain.Representation, len(signals))
	for _, s := range signals {
		out[s] = reps
	}
	return out, nil
}

// Close はリソースを解放する
func (e *Encoder) Close() error {
	return nil
}

// インターフェース実装の確認
var _ domain.Encoder = (*Encoder)(nil)
