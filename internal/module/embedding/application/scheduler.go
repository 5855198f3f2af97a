package application

import (
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

// Plan は推論バッチとウィンドウ→文書の対応表
// i 番目のウィンドウ（バッチ順・バッチ内順）は Owners[i] の文書に属する
type Plan struct {
	Batches [][]string
	Owners  []string

	offsets []int // 各バッチ先頭ウィンドウのグローバル位置
}

// Schedule は複数文書のウィンドウを文書順・ウィンドウ順に平坦化し、
// batchSize 件ずつのバッチに分割します
func Schedule(docs []domain.DocumentWindows, batchSize int) (Plan, error) {
	if batchSize <= 0 {
		return Plan{}, apperr.Config("batch-size", "must be positive, got %d", batchSize)
	}

	total := 0
	for _, d := range docs {
		total += len(d.Texts)
	}

	plan := Plan{
		Batches: make([][]string, 0, (total+batchSize-1)/batchSize),
		Owners:  make([]string, 0, total),
	}

	current := make([]string, 0, batchSize)
	for _, d := range docs {
		for _, text := range d.Texts {
			if len(current) == 0 {
				plan.offsets = append(plan.offsets, len(plan.Owners))
			}
			current = append(current, text)
			plan.Owners = append(plan.Owners, d.DocumentID)
			if len(current) == batchSize {
				plan.Batches = append(plan.Batches, current)
				current = make([]string, 0, batchSize)
			}
		}
	}
	if len(current) > 0 {
		plan.Batches = append(plan.Batches, current)
	}
	return plan, nil
}

// BatchOwners は i 番目のバッチに含まれる各ウィンドウの所有文書を返す
func (p Plan) BatchOwners(i int) []string {
	start := p.offsets[i]
	return p.Owners[start : start+len(p.Batches[i])]
}

func uniqueInOrder(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
