package application

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkhlop/nist-news-trec/internal/module/normalize/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/jsonl"
)

// StatsReport は1サイクル分の確定した統計
type StatsReport struct {
	Cycle     int
	Documents int
	Order     []string // フィールドの初出順
	Fields    map[string]domain.FieldStats
}

// MarshalJSON はフィールドを初出順に並べた1行のJSONを返す
// 非有限値は NaN / Infinity のトークンで書き出す
func (r StatsReport) MarshalJSON() ([]byte, error) {
	b := fmt.Appendf(nil, `{"cycle":%d,"documents":%d,"fields":{`, r.Cycle, r.Documents)
	for i, name := range r.Order {
		st, ok := r.Fields[name]
		if !ok {
			return nil, fmt.Errorf("missing statistics for field %s", name)
		}
		if i > 0 {
			b = append(b, ',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b = append(b, key...)
		b = fmt.Appendf(b, `:{"count":%d,"min":`, st.Count)
		b = jsonl.AppendVector(b, st.Min)
		b = append(b, `,"mean":`...)
		b = jsonl.AppendVector(b, st.Mean)
		b = append(b, `,"max":`...)
		b = jsonl.AppendVector(b, st.Max)
		b = append(b, `,"std":`...)
		b = jsonl.AppendVector(b, st.Std)
		b = append(b, '}')
	}
	return append(b, "}}"...), nil
}

// ReportWriter は統計を1サイクル1行で書き出す StatsHook を返す
func ReportWriter(w io.Writer) StatsHook {
	return func(report StatsReport) error {
		b, err := report.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, '\n'))
		return err
	}
}
