package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
	"github.com/pkhlop/nist-news-trec/internal/shared/jsonl"
)

// EmbedConfig はEmbedding生成ステージの設定
type EmbedConfig struct {
	TextField    string
	Window       WindowConfig
	BatchSize    int
	GroupSize    int // 一度に読み込む文書数
	Concurrency  int // 同時に推論するバッチ数
	BatchTimeout time.Duration
	Signals      []string // 空の場合はモデルの全シグナル
	Sentinel     string   // 転送する区切り行
}

// DefaultEmbedConfig はデフォルト設定を返す
func DefaultEmbedConfig() EmbedConfig {
	return EmbedConfig{
		TextField: "text",
		Window: WindowConfig{
			ChunkSize: 250,
			Overlap:   64,
		},
		BatchSize:   10,
		GroupSize:   64,
		Concurrency: 1,
		Sentinel:    jsonl.DefaultSentinel,
	}
}

// EmbedOption はEmbedServiceのオプション
type EmbedOption func(*EmbedService)

// WithLogger はロガーを設定する
func WithLogger(log *slog.Logger) EmbedOption {
	return func(s *EmbedService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSkipRecorder はスキップした文書の記録先を設定する
func WithSkipRecorder(rec domain.SkipRecorder) EmbedOption {
	return func(s *EmbedService) {
		s.skips = rec
	}
}

// WithMetrics はメトリクスの記録先を設定する
func WithMetrics(m *Metrics) EmbedOption {
	return func(s *EmbedService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// EmbedService は文書ストリームを読み、ウィンドウ分割・推論・集約を行って
// Embeddingフィールドを追加したレコードを書き出す
type EmbedService struct {
	encoder   domain.Encoder
	tokenizer domain.Tokenizer
	config    EmbedConfig
	window    WindowConfig
	signals   []domain.Signal
	runner    *BatchRunner

	skips   domain.SkipRecorder
	metrics *Metrics
	log     *slog.Logger
}

// NewEmbedService は設定を検証してEmbedServiceを作成します
// 設定の不備は apperr.ErrConfiguration として返す
func NewEmbedService(encoder domain.Encoder, tokenizer domain.Tokenizer, config EmbedConfig, opts ...EmbedOption) (*EmbedService, error) {
	s := &EmbedService{
		encoder:   encoder,
		tokenizer: tokenizer,
		config:    config,
		metrics:   NewMetrics(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	capability := encoder.Capability()

	if strings.TrimSpace(config.TextField) == "" {
		return nil, apperr.Config("text-field", "must not be empty")
	}
	s.window = config.Window.WithCapability(capability)
	if err := s.window.Validate(); err != nil {
		return nil, err
	}
	if config.BatchSize <= 0 {
		return nil, apperr.Config("batch-size", "must be positive, got %d", config.BatchSize)
	}
	if capability.MaxBatchSize > 0 && config.BatchSize > capability.MaxBatchSize {
		return nil, apperr.Config("batch-size", "model %s accepts at most %d windows per batch, got %d", capability.Model, capability.MaxBatchSize, config.BatchSize)
	}
	if config.GroupSize <= 0 {
		return nil, apperr.Config("group-size", "must be positive, got %d", config.GroupSize)
	}

	signals, err := capability.Select(config.Signals)
	if err != nil {
		return nil, apperr.Config("signals", "%v", err)
	}
	if len(signals) == 0 {
		return nil, apperr.Config("signals", "model %s exposes no signals", capability.Model)
	}
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return nil, apperr.Config("signals", "%v", err)
		}
	}
	s.signals = signals

	invoker := NewInvoker(encoder, signals, config.BatchTimeout, s.log)
	s.runner = NewBatchRunner(invoker, BatchRunnerConfig{
		MaxConcurrency: config.Concurrency,
		ProgressCallback: func(p BatchProgress) {
			s.log.Debug(p.String())
		},
	})

	return s, nil
}

// Signals は出力対象のシグナルを返す
func (s *EmbedService) Signals() []domain.Signal {
	return s.signals
}

// Metrics はメトリクスを返す
func (s *EmbedService) Metrics() *Metrics {
	return s.metrics
}

// pending はグループ内で処理待ちの文書
type pending struct {
	doc  domain.Document
	line int
}

// Run は入力を終端まで処理する
// 区切り行は読み込み済みの文書をすべて書き出してから転送する
// 返すエラーは実行全体の中断（入出力エラー・キャンセル）のみで、文書単位の失敗はスキップとして記録する
func (s *EmbedService) Run(ctx context.Context, r *jsonl.Reader, w *jsonl.Writer) error {
	capability := s.encoder.Capability()
	s.log.Info("Starting embedding",
		"model", capability.Model,
		"signals", signalNames(s.signals),
		"windowSize", s.window.ChunkSize,
		"overlap", s.window.Overlap,
		"addBoundary", s.window.AddBoundary,
		"pad", s.window.Pad,
		"batchSize", s.config.BatchSize,
		"groupSize", s.config.GroupSize,
		"concurrency", s.config.Concurrency,
	)

	group := make([]pending, 0, s.config.GroupSize)
	seen := make(map[string]int, s.config.GroupSize)

	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		err := s.processGroup(ctx, group, w)
		group = group[:0]
		clear(seen)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if line.Sentinel {
			if err := flush(); err != nil {
				return err
			}
			if err := w.Write([]byte(s.config.Sentinel)); err != nil {
				return err
			}
			continue
		}

		doc, err := s.parseDocument(line)
		if err != nil {
			id := doc.ID
			if id == "" {
				id = "line:" + strconv.Itoa(line.Number)
			}
			s.skip(id, domain.SkipReasonInvalidRecord, -1, err)
			continue
		}

		if first, dup := seen[doc.ID]; dup {
			s.skip(doc.ID, domain.SkipReasonDuplicateID, -1,
				fmt.Errorf("%w: id %s already read at line %d", domain.ErrInvalidRecord, doc.ID, first))
			continue
		}
		seen[doc.ID] = line.Number
		group = append(group, pending{doc: doc, line: line.Number})

		if len(group) >= s.config.GroupSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	s.log.Info("Embedding completed", "metrics", s.metrics.Snapshot())
	return nil
}

// parseDocument は1行を文書として解釈する
func (s *EmbedService) parseDocument(line jsonl.Line) (domain.Document, error) {
	obj, err := jsonl.Parse(line.Data)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: line %d: %w", domain.ErrInvalidRecord, line.Number, err)
	}

	idValue, ok := jsonl.Field(obj, "id")
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: line %d: missing id", domain.ErrInvalidRecord, line.Number)
	}
	id, ok := jsonl.Scalar(idValue)
	if !ok || id == "" {
		return domain.Document{}, fmt.Errorf("%w: line %d: id must be a non-empty string or number", domain.ErrInvalidRecord, line.Number)
	}

	text := ""
	if value, ok := jsonl.Field(obj, s.config.TextField); ok {
		switch value.Type {
		case gjson.String:
			text = strings.TrimSpace(value.Str)
		case gjson.Null:
		default:
			return domain.Document{ID: id}, fmt.Errorf("%w: field %s is not a string", domain.ErrInvalidRecord, s.config.TextField)
		}
	}

	return domain.Document{
		ID:     id,
		Text:   text,
		Record: line.Data,
	}, nil
}

// processGroup は1グループ分の文書を推論し、入力順に書き出す
func (s *EmbedService) processGroup(ctx context.Context, group []pending, w *jsonl.Writer) error {
	docs := make([]domain.DocumentWindows, 0, len(group))
	for _, p := range group {
		tokens := s.tokenizer.Tokenize(p.doc.Text)
		windows, err := BuildWindows(p.doc.ID, tokens, s.window)
		if err != nil {
			return err
		}
		texts := make([]string, len(windows))
		for i, win := range windows {
			texts[i] = s.tokenizer.Detokenize(win.Tokens)
		}
		docs = append(docs, domain.DocumentWindows{DocumentID: p.doc.ID, Texts: texts})
		s.metrics.RecordDocument(len(tokens), len(windows))
	}

	plan, err := Schedule(docs, s.config.BatchSize)
	if err != nil {
		return err
	}

	results, err := s.runner.Run(ctx, plan)
	if err != nil {
		return fmt.Errorf("embedding aborted: %w", err)
	}

	// バッチ順に集約する
	agg := NewAggregator(s.signals)
	for _, res := range results {
		failures := res.Failures()
		for _, f := range failures {
			s.drop(agg, f.DocumentID, res.Index, f.Err)
		}
		failed := len(failures) > 0
		if res.Error == nil {
			if err := agg.Add(res.Owners, res.Output); err != nil {
				failed = true
				for _, id := range uniqueInOrder(res.Owners) {
					s.drop(agg, id, res.Index, err)
				}
			}
		}
		s.metrics.RecordBatch(res.Duration, res.Splits, failed)
	}

	stats := CalculateBatchStats(results)
	if stats.FailureCount > 0 {
		s.log.Warn(stats.String(), "failedDocuments", stats.FailedDocuments)
	} else {
		s.log.Debug(stats.String())
	}

	for _, p := range group {
		id := p.doc.ID
		if agg.Dropped(id) {
			continue
		}
		emb, ok, err := agg.Embedding(id)
		if err != nil {
			s.skip(id, domain.SkipReasonModel, -1, err)
			continue
		}
		if !ok {
			s.skip(id, domain.SkipReasonNoRows, -1, fmt.Errorf("%w: document %s produced no rows", domain.ErrModel, id))
			continue
		}

		record, err := s.appendEmbedding(p.doc.Record, emb)
		if err != nil {
			s.skip(id, domain.SkipReasonInvalidRecord, -1, err)
			continue
		}
		if err := w.Write(record); err != nil {
			return err
		}
		s.metrics.RecordEmitted()
	}
	return nil
}

// appendEmbedding は集約結果をレコード末尾に追加する
// 既存フィールドは上書きしない
func (s *EmbedService) appendEmbedding(record []byte, emb DocumentEmbedding) ([]byte, error) {
	out := record
	for _, f := range emb.Fields {
		next, err := jsonl.AppendField(out, f.Name, jsonl.EncodeVector(f.Values))
		if errors.Is(err, jsonl.ErrFieldExists) {
			s.log.Warn("Field already present, keeping existing value",
				"documentID", emb.DocumentID,
				"field", f.Name,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document %s: %w", domain.ErrInvalidRecord, emb.DocumentID, err)
		}
		out = next
	}
	return out, nil
}

// drop は文書を集約対象から外し、スキップとして記録する
// 同じグループ内で記録するのは最初の失敗のみ
func (s *EmbedService) drop(agg *Aggregator, id string, batch int, err error) {
	if agg.Dropped(id) {
		return
	}
	agg.Drop(id)
	s.skip(id, domain.SkipReason(err), batch, err)
}

// skip は文書のスキップを記録する
func (s *EmbedService) skip(id, reason string, batch int, err error) {
	s.metrics.RecordSkipped(reason)
	s.log.Warn("Skipping document",
		"documentID", id,
		"reason", reason,
		"batch", batch,
		"error", err,
	)
	if s.skips == nil {
		return
	}
	if rerr := s.skips.RecordSkip(domain.SkipRecord{
		DocumentID: id,
		Reason:     reason,
		Batch:      batch,
		Err:        err,
	}); rerr != nil {
		s.log.Error("Failed to record skipped document", "documentID", id, "error", rerr)
	}
}

func signalNames(signals []domain.Signal) []string {
	names := make([]string, len(signals))
	for i, sig := range signals {
		names[i] = sig.Name
	}
	return names
}
