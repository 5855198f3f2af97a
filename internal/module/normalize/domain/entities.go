package domain

import (
	"strings"

	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

// Kind は正規化の種類
type Kind string

const (
	// KindAmplitude は (v-min)/(max-min) で [0,1] に写す
	KindAmplitude Kind = "amplitude"
	// KindSigmoid は平均を中心に標準偏差で尺度を揃えたロジスティック関数で写す
	KindSigmoid Kind = "sigmoid"
	// KindNone は値を変更しない
	KindNone Kind = "none"
)

// ParseKind は文字列から Kind を取得します
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindAmplitude:
		return KindAmplitude, nil
	case KindSigmoid:
		return KindSigmoid, nil
	case KindNone:
		return KindNone, nil
	default:
		return "", apperr.Config("type", "unknown normalization %q (amplitude|sigmoid|none)", s)
	}
}

// DegeneracyPolicy は定数の次元（max=min, std=0）の扱い
type DegeneracyPolicy string

const (
	// DegeneracyPropagate はIEEEの規則どおり ±Inf/NaN をそのまま出力する
	DegeneracyPropagate DegeneracyPolicy = "propagate"
	// DegeneracyNeutral は出力範囲の中央 0.5 を出力する
	DegeneracyNeutral DegeneracyPolicy = "neutral"
)

// ParseDegeneracyPolicy は文字列から DegeneracyPolicy を取得します
func ParseDegeneracyPolicy(s string) (DegeneracyPolicy, error) {
	switch DegeneracyPolicy(strings.ToLower(s)) {
	case DegeneracyPropagate, "":
		return DegeneracyPropagate, nil
	case DegeneracyNeutral:
		return DegeneracyNeutral, nil
	default:
		return "", apperr.Config("degenerate", "unknown policy %q (propagate|neutral)", s)
	}
}

// Mode は統計を取る文書と正規化する文書の関係
type Mode string

const (
	// ModeDisjoint は区切り行の前のブロックで統計を取り、次のブロックを正規化する
	ModeDisjoint Mode = "disjoint"
	// ModeReplay は同じブロックを保持しておき、統計を取った後に正規化する
	ModeReplay Mode = "replay"
)

// ParseMode は文字列から Mode を取得します
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeDisjoint, "":
		return ModeDisjoint, nil
	case ModeReplay:
		return ModeReplay, nil
	default:
		return "", apperr.Config("mode", "unknown mode %q (disjoint|replay)", s)
	}
}

// FieldStats は1フィールド分の次元ごとの統計
type FieldStats struct {
	Min   []float64
	Mean  []float64
	Max   []float64
	Std   []float64 // 母標準偏差
	Count int       // 統計に使った行数
}

// Dim は次元数を返す
func (s FieldStats) Dim() int {
	return len(s.Min)
}
