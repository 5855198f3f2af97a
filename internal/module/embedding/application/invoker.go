package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// Invoker は1バッチ分のエンコーダ呼び出しを行う
type Invoker struct {
	encoder domain.Encoder
	signals []domain.Signal
	names   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewInvoker は新しいInvokerを作成します
// timeout が0以下の場合はバッチ単位のタイムアウトを設定しない
func NewInvoker(encoder domain.Encoder, signals []domain.Signal, timeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = s.Name
	}
	return &Invoker{
		encoder: encoder,
		signals: signals,
		names:   names,
		timeout: timeout,
		logger:  logger,
	}
}

// Invoke は1バッチを推論し、シグナルごとに入力順の表現を返す
// リソースは推論前に確保し、失敗時も含めて必ず解放する
func (iv *Invoker) Invoke(ctx context.Context, batch int, texts []string) (map[string][]domain.Representation, error) {
	model := iv.encoder.Capability().Model
	if len(texts) == 0 {
		return map[string][]domain.Representation{}, nil
	}

	callCtx := ctx
	if iv.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, iv.timeout)
		defer cancel()
	}

	if scope, ok := iv.encoder.(domain.ResourceScope); ok {
		if err := scope.Acquire(callCtx); err != nil {
			return nil, iv.classify(ctx, "acquire", model, batch, err)
		}
		defer scope.Release()
	}

	out, err := iv.encoder.Encode(callCtx, texts, iv.names)
	if err != nil {
		return nil, iv.classify(ctx, "encode", model, batch, err)
	}

	if err := iv.validate(out, len(texts)); err != nil {
		return nil, domain.NewEncodeError("validate", model, batch, fmt.Errorf("%w: %w", domain.ErrModel, err))
	}
	return out, nil
}

// InvokeAdaptive はリソース枯渇時にバッチを半分に分割して再試行する
// 分割後に失敗したウィンドウは failed（バッチ内の位置 → エラー）に記録し、残りの推論を続ける
// 失敗したウィンドウの表現は nil になる。err は分割前のバッチ全体の失敗か中断のみ
func (iv *Invoker) InvokeAdaptive(ctx context.Context, batch int, texts []string) (out map[string][]domain.Representation, failed map[int]error, splits int, err error) {
	out, err = iv.Invoke(ctx, batch, texts)
	if err == nil || !errors.Is(err, domain.ErrResourceExhausted) {
		return out, nil, 0, err
	}
	failed = make(map[int]error)
	out, splits, err = iv.split(ctx, batch, texts, 0, err, failed)
	if err != nil {
		return nil, nil, splits, err
	}
	return out, failed, splits, nil
}

// split は枯渇したバッチを半分ずつ推論する
// offset は texts 先頭のバッチ内の位置
func (iv *Invoker) split(ctx context.Context, batch int, texts []string, offset int, cause error, failed map[int]error) (map[string][]domain.Representation, int, error) {
	if len(texts) == 1 {
		failed[offset] = fmt.Errorf("%w: window %d exhausts resources on its own: %w", domain.ErrModel, offset, cause)
		return iv.placeholder(1), 0, nil
	}

	mid := len(texts) / 2
	iv.logger.Warn("resource exhausted, retrying with smaller batches",
		"batch", batch,
		"size", len(texts),
		"split", mid,
	)

	splits := 1
	merged := iv.placeholder(0)
	for _, half := range []struct {
		texts  []string
		offset int
	}{
		{texts[:mid], offset},
		{texts[mid:], offset + mid},
	} {
		part, err := iv.Invoke(ctx, batch, half.texts)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, splits, err
		case errors.Is(err, domain.ErrResourceExhausted):
			var n int
			part, n, err = iv.split(ctx, batch, half.texts, half.offset, err, failed)
			splits += n
			if err != nil {
				return nil, splits, err
			}
		default:
			for i := range half.texts {
				failed[half.offset+i] = err
			}
			part = iv.placeholder(len(half.texts))
		}
		for _, name := range iv.names {
			merged[name] = append(merged[name], part[name]...)
		}
	}
	return merged, splits, nil
}

// placeholder は失敗したウィンドウ用の空の出力を作る
func (iv *Invoker) placeholder(n int) map[string][]domain.Representation {
	out := make(map[string][]domain.Representation, len(iv.names))
	for _, name := range iv.names {
		out[name] = make([]domain.Representation, n)
	}
	return out
}

// classify はエンコーダのエラーを分類する
// 呼び出し元のコンテキストが終了している場合は実行全体の中断として返す
func (iv *Invoker) classify(ctx context.Context, op, model string, batch int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, domain.ErrResourceExhausted), errors.Is(err, domain.ErrModel):
		return domain.NewEncodeError(op, model, batch, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewEncodeError(op, model, batch, fmt.Errorf("%w: batch timed out after %s: %w", domain.ErrModel, iv.timeout, err))
	default:
		return domain.NewEncodeError(op, model, batch, fmt.Errorf("%w: %w", domain.ErrModel, err))
	}
}

// validate はエンコーダの出力が形状の契約を満たすか確認する
func (iv *Invoker) validate(out map[string][]domain.Representation, n int) error {
	for _, s := range iv.signals {
		reps, ok := out[s.Name]
		if !ok {
			return fmt.Errorf("signal %s missing from encoder output", s.Name)
		}
		if len(reps) != n {
			return fmt.Errorf("signal %s: got %d representations for %d windows", s.Name, len(reps), n)
		}
		dim := -1
		for i, rep := range reps {
			if s.Shape == domain.ShapeWindow && len(rep) != 1 {
				return fmt.Errorf("signal %s: window %d has %d rows, want 1", s.Name, i, len(rep))
			}
			for _, row := range rep {
				if dim < 0 {
					dim = len(row)
				}
				if len(row) != dim || dim == 0 {
					return fmt.Errorf("signal %s: window %d has row width %d, want %d", s.Name, i, len(row), dim)
				}
			}
		}
	}
	return nil
}
