package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrModel はリソース枯渇以外の理由でエンコーダ呼び出しが失敗した場合のエラー
	// バッチ単位で回復し、該当文書はスキップされる
	ErrModel = errors.New("model error")

	// ErrResourceExhausted はアクセラレータのメモリ枯渇などのエラー
	// 呼び出し側はバッチを小さくして再試行できる
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidRecord は入力レコードが不正な場合のエラー
	ErrInvalidRecord = errors.New("invalid record")
)

// EncodeError はエンコーダ呼び出しのエラーを表します
type EncodeError struct {
	Op    string // 操作名
	Model string
	Batch int // バッチ番号（不明な場合は -1）
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("encoder: %s: %s (model=%s, batch=%d)", e.Op, e.Err, e.Model, e.Batch)
	}
	return fmt.Sprintf("encoder: %s: %s (model=%s)", e.Op, e.Err, e.Model)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// NewEncodeError は新しいEncodeErrorを作成します
func NewEncodeError(op, model string, batch int, err error) *EncodeError {
	return &EncodeError{
		Op:    op,
		Model: model,
		Batch: batch,
		Err:   err,
	}
}

// スキップ理由
const (
	SkipReasonModel             = "model_error"
	SkipReasonResourceExhausted = "resource_exhausted"
	SkipReasonInvalidRecord     = "invalid_record"
	SkipReasonDuplicateID       = "duplicate_id"
	SkipReasonNoRows            = "no_rows"
)

// SkipReason はエラーからスキップ理由を決める
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return SkipReasonResourceExhausted
	case errors.Is(err, ErrInvalidRecord):
		return SkipReasonInvalidRecord
	default:
		return SkipReasonModel
	}
}

// SkipRecord はスキップした文書の記録
type SkipRecord struct {
	DocumentID string
	Reason     string
	Batch      int
	Err        error
}

// SkipRecorder はスキップした文書を人が確認できる形で記録する
type SkipRecorder interface {
	RecordSkip(rec SkipRecord) error
}
