package application

import (
	"errors"
	"fmt"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// 集約統計の種類（出力フィールド名の接尾辞）
const (
	StatMean = "mean"
	StatMax  = "max"
	StatMin  = "min"
)

// ErrNoRows は集約する行がない場合のエラー
var ErrNoRows = errors.New("no rows to reduce")

// FieldName はシグナルと統計の種類から出力フィールド名を作る
func FieldName(signal, stat string) string {
	return "embedding_" + signal + "_" + stat
}

// EmbeddingField は文書レコードに追加するフィールド
type EmbeddingField struct {
	Name   string
	Values []float64
}

// DocumentEmbedding は1文書分の集約結果
type DocumentEmbedding struct {
	DocumentID string
	Fields     []EmbeddingField
}

// Aggregator はウィンドウ単位の表現を文書IDごとに集め、固定長ベクトルに縮約する
// 位置ではなく文書IDで集約するため、文書のウィンドウが連続している必要はない
type Aggregator struct {
	signals []domain.Signal
	rows    map[string]map[string][][]float32 // 文書ID → シグナル → 行
	dropped map[string]struct{}
}

// NewAggregator は新しいAggregatorを作成します
func NewAggregator(signals []domain.Signal) *Aggregator {
	return &Aggregator{
		signals: signals,
		rows:    make(map[string]map[string][][]float32),
		dropped: make(map[string]struct{}),
	}
}

// Add は1バッチ分の出力を取り込む。owners はバッチ内の各ウィンドウの所有文書
// バッチ順に呼び出すこと（文書内の行順序がウィンドウ順になる）
func (a *Aggregator) Add(owners []string, out map[string][]domain.Representation) error {
	for _, s := range a.signals {
		if len(out[s.Name]) != len(owners) {
			return fmt.Errorf("%w: signal %s has %d representations for %d windows", domain.ErrModel, s.Name, len(out[s.Name]), len(owners))
		}
	}

	for _, s := range a.signals {
		for i, rep := range out[s.Name] {
			doc := owners[i]
			if _, ok := a.dropped[doc]; ok {
				continue
			}
			bySignal, ok := a.rows[doc]
			if !ok {
				bySignal = make(map[string][][]float32, len(a.signals))
				a.rows[doc] = bySignal
			}
			bySignal[s.Name] = append(bySignal[s.Name], rep...)
		}
	}
	return nil
}

// Drop は文書を出力対象から外す。既に集めた行も破棄する
// 文書のウィンドウが1つでも欠けた場合に使う
func (a *Aggregator) Drop(docID string) {
	a.dropped[docID] = struct{}{}
	delete(a.rows, docID)
}

// Dropped は文書が除外済みかどうかを返す
func (a *Aggregator) Dropped(docID string) bool {
	_, ok := a.dropped[docID]
	return ok
}

// Embedding は文書の集約結果を返す
// 行が1つもない文書・除外された文書は ok=false（出力しない）
func (a *Aggregator) Embedding(docID string) (DocumentEmbedding, bool, error) {
	if a.Dropped(docID) {
		return DocumentEmbedding{}, false, nil
	}
	bySignal, ok := a.rows[docID]
	if !ok {
		return DocumentEmbedding{}, false, nil
	}

	emb := DocumentEmbedding{DocumentID: docID}
	for _, s := range a.signals {
		rows := bySignal[s.Name]
		if len(rows) == 0 {
			continue
		}
		mean, maxv, minv, err := Reduce(rows)
		if err != nil {
			return DocumentEmbedding{}, false, fmt.Errorf("%w: document %s signal %s: %w", domain.ErrModel, docID, s.Name, err)
		}
		emb.Fields = append(emb.Fields,
			EmbeddingField{Name: FieldName(s.Name, StatMean), Values: mean},
			EmbeddingField{Name: FieldName(s.Name, StatMax), Values: maxv},
			EmbeddingField{Name: FieldName(s.Name, StatMin), Values: minv},
		)
	}
	if len(emb.Fields) == 0 {
		return DocumentEmbedding{}, false, nil
	}
	return emb, true, nil
}

// Reduce は行を積み上げた行列に対し、行方向の要素ごとの平均・最大・最小を計算する
// 行の順に float64 で加算する純粋関数であり、同じ入力に対して常に同一の結果を返す
func Reduce(rows [][]float32) (mean, maxv, minv []float64, err error) {
	if len(rows) == 0 {
		return nil, nil, nil, ErrNoRows
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, nil, nil, fmt.Errorf("rows have zero width")
	}

	sum := make([]float64, dim)
	maxv = make([]float64, dim)
	minv = make([]float64, dim)
	for j, v := range rows[0] {
		maxv[j] = float64(v)
		minv[j] = float64(v)
	}

	for i, row := range rows {
		if len(row) != dim {
			return nil, nil, nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), dim)
		}
		for j, v := range row {
			x := float64(v)
			sum[j] += x
			if x > maxv[j] {
				maxv[j] = x
			}
			if x < minv[j] {
				minv[j] = x
			}
		}
	}

	mean = make([]float64, dim)
	n := float64(len(rows))
	for j := range sum {
		mean[j] = sum[j] / n
	}
	return mean, maxv, minv, nil
}
