package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/adapter/encoder"
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/adapter/encoder/inference"
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/adapter/encoder/openai"
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/adapter/skiplog"
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/adapter/tokenizer"
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
	"github.com/pkhlop/nist-news-trec/internal/platform/config"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

// healthCheckTimeout は設定にタイムアウトがない場合の疎通確認の上限
const healthCheckTimeout = 10 * time.Second

// pinger は起動時に疎通確認できるエンコーダ
type pinger interface {
	Ping(ctx context.Context) error
}

// EncoderParams はコマンドラインで指定されるエンコーダの選択
type EncoderParams struct {
	Model    string
	Provider string // 空の場合は設定、設定も空ならカタログの値
	Device   domain.Device
}

// Container は埋め込みステージの依存関係を保持する
type Container struct {
	RunID     string
	Catalog   *encoder.Catalog
	Encoder   *encoder.Throttled
	Tokenizer domain.Tokenizer
	Skips     *skiplog.Recorder

	logger  *slog.Logger
	closers []func() error
}

type containerOptions struct {
	logger    *slog.Logger
	runID     string
	catalog   *encoder.Catalog
	encoder   domain.Encoder
	tokenizer domain.Tokenizer
}

// ContainerOption は Container 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerRunID は実行IDを指定する
func WithContainerRunID(runID string) ContainerOption {
	return func(opts *containerOptions) {
		opts.runID = runID
	}
}

// WithContainerCatalog はモデルカタログを差し替える
func WithContainerCatalog(catalog *encoder.Catalog) ContainerOption {
	return func(opts *containerOptions) {
		opts.catalog = catalog
	}
}

// WithContainerEncoder はカスタム Encoder を注入する
func WithContainerEncoder(enc domain.Encoder) ContainerOption {
	return func(opts *containerOptions) {
		opts.encoder = enc
	}
}

// WithContainerTokenizer は Tokenizer を差し替える
func WithContainerTokenizer(tok domain.Tokenizer) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenizer = tok
	}
}

// New は設定からコンテナを生成する
// モデル・プロバイダ・デバイスの誤りは ErrConfiguration を返す
func New(cfg *config.Config, params EncoderParams, opts ...ContainerOption) (*Container, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.runID == "" {
		options.runID = uuid.NewString()
	}

	c := &Container{
		RunID:  options.runID,
		logger: options.logger.With("run_id", options.runID),
	}

	// Catalog
	catalog := options.catalog
	if catalog == nil {
		var err error
		catalog, err = encoder.LoadCatalog(cfg.Encoder.Catalog)
		if err != nil {
			return nil, apperr.Config("model-catalog", "%v", err)
		}
	}
	c.Catalog = catalog

	// Encoder
	inner := options.encoder
	if inner == nil {
		var err error
		inner, err = c.newEncoder(cfg, params)
		if err != nil {
			return nil, err
		}
		c.addCloser(inner)
		if err := c.healthCheck(cfg, inner); err != nil {
			c.Close()
			return nil, err
		}
	} else {
		c.addCloser(inner)
	}

	c.Encoder = encoder.NewThrottled(inner, encoder.ThrottleConfig{
		RequestsPerMinute: cfg.Encoder.RequestsPerMinute,
		Slots:             cfg.Encoder.DeviceSlots,
	})

	// Tokenizer (tiktoken)
	tok := options.tokenizer
	if tok == nil {
		name := inner.Capability().TokenEncoding
		if name == "" {
			name = tokenizer.DefaultEncoding
		}
		t, err := tokenizer.NewTiktoken(name)
		if err != nil {
			c.Close()
			return nil, apperr.Config("model", "%v", err)
		}
		tok = t
	}
	c.Tokenizer = tok

	// SkipRecorder
	skips, err := skiplog.NewRecorder(cfg.SkipLogDir, c.RunID, c.logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("skip recorder: %w", err)
	}
	c.Skips = skips
	c.closers = append(c.closers, skips.Close)

	c.logger.Info("Encoder ready",
		"model", inner.Capability().Model,
		"signals", len(inner.Capability().Signals),
		"tokenizer", inner.Capability().TokenEncoding,
		"throttle", c.Encoder.Status().String(),
	)
	return c, nil
}

// newEncoder はカタログのモデル定義からプロバイダ別のエンコーダを生成する
func (c *Container) newEncoder(cfg *config.Config, params EncoderParams) (domain.Encoder, error) {
	spec, ok := c.Catalog.Lookup(params.Model)
	if !ok {
		return nil, apperr.Config("model", "unknown model %q", params.Model)
	}
	capability, err := spec.Capability()
	if err != nil {
		return nil, apperr.Config("model", "%v", err)
	}

	provider := params.Provider
	if provider == "" {
		provider = cfg.Encoder.Provider
	}
	if provider == "" {
		provider = spec.Provider
	}

	switch provider {
	case encoder.ProviderInference:
		enc, err := inference.New(inference.Config{
			BaseURL:    cfg.Encoder.URL,
			Timeout:    cfg.Encoder.Timeout,
			Device:     params.Device,
			Capability: capability,
		})
		if err != nil {
			return nil, apperr.Config("provider", "%v", err)
		}
		return enc, nil

	case encoder.ProviderOpenAI:
		opts := []openai.EncoderOption{
			openai.WithEmbeddingModel(spec.Name),
			openai.WithCapability(capability),
		}
		if cfg.OpenAI.EmbeddingDimension > 0 {
			opts = append(opts, openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension))
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		enc, err := openai.New(cfg.OpenAI.APIKey, opts...)
		if err != nil {
			return nil, apperr.Config("provider", "%v", err)
		}
		return enc, nil

	default:
		return nil, apperr.Config("provider", "unknown provider %q (inference|openai)", provider)
	}
}

// healthCheck はエンコーダのサーバーに接続できるか確認する
func (c *Container) healthCheck(cfg *config.Config, enc domain.Encoder) error {
	p, ok := enc.(pinger)
	if !ok {
		return nil
	}
	timeout := cfg.Encoder.Timeout
	if timeout <= 0 {
		timeout = healthCheckTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("encoder health check (%s): %w", cfg.Encoder.URL, err)
	}
	c.logger.Debug("Encoder health check passed", "url", cfg.Encoder.URL)
	return nil
}

func (c *Container) addCloser(v any) {
	if cl, ok := v.(interface{ Close() error }); ok {
		c.closers = append(c.closers, cl.Close)
	}
}

// Logger はロガーを返す
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Close は内部リソースを解放する
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
