package application

import (
	"fmt"
	"math"

	"github.com/pkhlop/nist-news-trec/internal/module/normalize/domain"
)

// neutralValue は定数の次元に使う値（出力範囲 [0,1] の中央）
const neutralValue = 0.5

// Scale は統計を使ってベクトルを正規化した新しいスライスを返す
func Scale(kind domain.Kind, values []float64, st domain.FieldStats, policy domain.DegeneracyPolicy) ([]float64, error) {
	if kind != domain.KindNone && len(values) != st.Dim() {
		return nil, fmt.Errorf("%w: vector has %d dimensions, statistics have %d", domain.ErrInvalidRecord, len(values), st.Dim())
	}

	out := make([]float64, len(values))
	switch kind {
	case domain.KindAmplitude:
		for j, v := range values {
			span := st.Max[j] - st.Min[j]
			if span == 0 && policy == domain.DegeneracyNeutral {
				out[j] = neutralValue
				continue
			}
			out[j] = (v - st.Min[j]) / span
		}
	case domain.KindSigmoid:
		for j, v := range values {
			if st.Std[j] == 0 && policy == domain.DegeneracyNeutral {
				out[j] = neutralValue
				continue
			}
			out[j] = 1 / (1 + math.Exp(-(v-st.Mean[j])/st.Std[j]*2))
		}
	case domain.KindNone:
		copy(out, values)
	default:
		return nil, fmt.Errorf("unknown normalization %q", kind)
	}
	return out, nil
}
