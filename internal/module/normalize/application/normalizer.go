package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pkhlop/nist-news-trec/internal/module/normalize/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
	"github.com/pkhlop/nist-news-trec/internal/shared/jsonl"
)

// Phase は正規化ステージの状態
type Phase int

const (
	// PhaseCollect は統計用の標本を集める
	PhaseCollect Phase = iota
	// PhaseStats は統計を確定する（一時的な状態）
	PhaseStats
	// PhaseApply は確定した統計で正規化して書き出す
	PhaseApply
)

// String は状態名を返す
func (p Phase) String() string {
	switch p {
	case PhaseCollect:
		return "COLLECT"
	case PhaseStats:
		return "STATS"
	case PhaseApply:
		return "APPLY"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// event は状態遷移のきっかけ
type event int

const (
	eventRecord event = iota
	eventSentinel
	eventEOF
)

// statsLogDims はログに出す次元数
const statsLogDims = 10

// Config は正規化ステージの設定
type Config struct {
	Kind         domain.Kind
	ExpectedSize int
	Mode         domain.Mode
	Degeneracy   domain.DegeneracyPolicy
	FieldMarker  string // フィールド名にこの文字列を含む数値配列を正規化対象とする
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Kind:        domain.KindSigmoid,
		Mode:        domain.ModeDisjoint,
		Degeneracy:  domain.DegeneracyPropagate,
		FieldMarker: "embedding",
	}
}

// StatsHook は統計の確定ごとに呼ばれる
type StatsHook func(report StatsReport) error

// Option はNormalizerのオプション
type Option func(*Normalizer)

// WithLogger はロガーを設定する
func WithLogger(log *slog.Logger) Option {
	return func(n *Normalizer) {
		if log != nil {
			n.log = log
		}
	}
}

// WithStatsHook は統計の確定時に呼ぶ関数を設定する
func WithStatsHook(hook StatsHook) Option {
	return func(n *Normalizer) {
		n.hook = hook
	}
}

// Normalizer は COLLECT → STATS → APPLY の状態機械
// 区切り行が繰り返し現れる場合はこのサイクルを繰り返す
type Normalizer struct {
	config Config
	log    *slog.Logger
	hook   StatsHook

	phase     Phase
	cycle     int
	collector *Collector
	stats     map[string]domain.FieldStats
	buffered  [][]byte // replay モードで保持するブロック

	applied int
}

// NewNormalizer は設定を検証してNormalizerを作成します
func NewNormalizer(config Config, opts ...Option) (*Normalizer, error) {
	if config.FieldMarker == "" {
		return nil, apperr.Config("field-marker", "must not be empty")
	}
	if _, err := domain.ParseKind(string(config.Kind)); err != nil {
		return nil, err
	}
	if _, err := domain.ParseMode(string(config.Mode)); err != nil {
		return nil, err
	}
	if _, err := domain.ParseDegeneracyPolicy(string(config.Degeneracy)); err != nil {
		return nil, err
	}
	collector, err := NewCollector(config.ExpectedSize)
	if err != nil {
		return nil, err
	}

	n := &Normalizer{
		config:    config,
		log:       slog.Default(),
		phase:     PhaseCollect,
		collector: collector,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Phase は現在の状態を返す
func (n *Normalizer) Phase() Phase {
	return n.phase
}

// Stats は確定済みの統計を返す（COLLECT中は nil）
func (n *Normalizer) Stats() map[string]domain.FieldStats {
	return n.stats
}

// Run は入力を終端まで処理する
func (n *Normalizer) Run(ctx context.Context, r *jsonl.Reader, w *jsonl.Writer) error {
	n.log.Info("Starting normalization",
		"type", n.config.Kind,
		"size", n.config.ExpectedSize,
		"mode", n.config.Mode,
		"degenerate", n.config.Degeneracy,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			if err := n.step(eventEOF, jsonl.Line{}, w); err != nil {
				return err
			}
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		ev := eventRecord
		if line.Sentinel {
			ev = eventSentinel
		}
		if err := n.step(ev, line, w); err != nil {
			return err
		}
	}

	n.log.Info("Normalization completed", "cycles", n.cycle, "applied", n.applied)
	return nil
}

// step は状態遷移関数
func (n *Normalizer) step(ev event, line jsonl.Line, w *jsonl.Writer) error {
	switch n.phase {
	case PhaseCollect:
		switch ev {
		case eventRecord:
			return n.collect(line)
		case eventSentinel, eventEOF:
			// 終端直前の区切りで始まった空のブロックは統計を出さない
			if ev == eventEOF && n.collector.Rows() == 0 {
				return nil
			}
			if err := n.commit(); err != nil {
				return err
			}
			if n.config.Mode == domain.ModeReplay {
				if err := n.replay(w); err != nil {
					return err
				}
				// 保持したブロックを書き出したら次のブロックの COLLECT に戻る
				return n.reset()
			}
			return nil
		}

	case PhaseApply:
		switch ev {
		case eventRecord:
			return n.apply(line.Data, line.Number, w)
		case eventSentinel:
			return n.reset()
		case eventEOF:
			return nil
		}
	}
	return fmt.Errorf("unexpected event in phase %s", n.phase)
}

// collect は1文書を標本に加える
func (n *Normalizer) collect(line jsonl.Line) error {
	obj, err := jsonl.Parse(line.Data)
	if err != nil {
		return fmt.Errorf("%w: line %d: %w", domain.ErrInvalidRecord, line.Number, err)
	}
	if err := n.collector.Add(n.embeddingFields(obj)); err != nil {
		return fmt.Errorf("line %d: %w", line.Number, err)
	}
	if n.config.Mode == domain.ModeReplay {
		n.buffered = append(n.buffered, append([]byte(nil), line.Data...))
	}
	return nil
}

// commit は STATS 状態で統計を確定し APPLY に遷移する
func (n *Normalizer) commit() error {
	n.phase = PhaseStats
	n.cycle++

	documents := n.collector.Rows()
	stats, order := n.collector.Stats()
	n.stats = stats

	report := StatsReport{
		Cycle:     n.cycle,
		Documents: documents,
		Order:     order,
		Fields:    stats,
	}
	n.logStats(report)
	if n.hook != nil {
		if err := n.hook(report); err != nil {
			return fmt.Errorf("failed to report statistics: %w", err)
		}
	}

	n.phase = PhaseApply
	return nil
}

// replay は保持したブロックを正規化して書き出す
func (n *Normalizer) replay(w *jsonl.Writer) error {
	buffered := n.buffered
	n.buffered = nil
	for i, record := range buffered {
		if err := n.apply(record, i+1, w); err != nil {
			return err
		}
	}
	return nil
}

// reset は統計を破棄して次のサイクルの COLLECT に戻る
func (n *Normalizer) reset() error {
	n.stats = nil
	n.buffered = nil
	n.phase = PhaseCollect
	return nil
}

// apply は1文書のEmbeddingフィールドを正規化して書き出す
// その他のフィールドはそのまま残す
func (n *Normalizer) apply(record []byte, lineNumber int, w *jsonl.Writer) error {
	obj, err := jsonl.Parse(record)
	if err != nil {
		return fmt.Errorf("%w: line %d: %w", domain.ErrInvalidRecord, lineNumber, err)
	}

	seen := make(map[string]bool)
	out, err := jsonl.Rewrite(obj, func(name string, value gjson.Result) ([]byte, error) {
		values, ok := n.embeddingValues(name, value)
		if !ok || seen[name] {
			return nil, nil
		}
		seen[name] = true

		st, ok := n.stats[name]
		if !ok && n.config.Kind != domain.KindNone {
			return nil, fmt.Errorf("%w: line %d: field %s has no statistics from the preceding sample", domain.ErrInvalidRecord, lineNumber, name)
		}
		scaled, err := Scale(n.config.Kind, values, st, n.config.Degeneracy)
		if err != nil {
			return nil, fmt.Errorf("line %d: field %s: %w", lineNumber, name, err)
		}
		return jsonl.EncodeVector(scaled), nil
	})
	if err != nil {
		return err
	}

	if err := w.Write(out); err != nil {
		return err
	}
	n.applied++
	return nil
}

// embeddingFields は文書中の正規化対象フィールドを出現順に返す
func (n *Normalizer) embeddingFields(obj gjson.Result) []FieldVector {
	var fields []FieldVector
	seen := make(map[string]bool)
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if values, ok := n.embeddingValues(name, value); ok && !seen[name] {
			seen[name] = true
			fields = append(fields, FieldVector{Name: name, Values: values})
		}
		return true
	})
	return fields
}

// embeddingValues はフィールドが正規化対象であれば値を返す
func (n *Normalizer) embeddingValues(name string, value gjson.Result) ([]float64, bool) {
	if !strings.Contains(name, n.config.FieldMarker) {
		return nil, false
	}
	return jsonl.ParseVector(value)
}

// logStats は各フィールドの統計の先頭次元をログに出す
func (n *Normalizer) logStats(report StatsReport) {
	n.log.Info("Statistics committed",
		"cycle", report.Cycle,
		"documents", report.Documents,
		"fields", len(report.Order),
	)
	for _, name := range report.Order {
		st := report.Fields[name]
		k := min(statsLogDims, st.Dim())
		n.log.Info("Field statistics",
			"field", name,
			"rows", st.Count,
			"dim", st.Dim(),
			"min", st.Min[:k],
			"mean", st.Mean[:k],
			"max", st.Max[:k],
			"std", st.Std[:k],
		)
	}
}
