package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// BatchResult は単一のバッチ処理結果
type BatchResult struct {
	// Index はバッチ番号
	Index int
	// Owners はバッチ内の各ウィンドウの所有文書
	Owners []string
	// Output はシグナルごとの表現（成功時）
	Output map[string][]domain.Representation
	// Splits はリソース枯渇による分割回数
	Splits int
	// Failed は分割後に失敗したウィンドウ（バッチ内の位置 → エラー）
	Failed map[int]error
	// Error はバッチ全体のエラー情報（失敗時）
	Error error
	// Duration は処理時間
	Duration time.Duration
}

// BatchRunnerConfig はバッチ実行の設定
type BatchRunnerConfig struct {
	// MaxConcurrency は同時実行数の上限
	MaxConcurrency int
	// ProgressCallback はプログレス更新時に呼ばれるコールバック
	ProgressCallback func(progress BatchProgress)
}

// BatchProgress はバッチ処理の進捗状況
type BatchProgress struct {
	Total                  int
	Completed              int
	Failed                 int
	ElapsedTime            time.Duration
	EstimatedTimeRemaining time.Duration
}

// String はプログレスを文字列表現で返す
func (p BatchProgress) String() string {
	percentage := 0.0
	if p.Total > 0 {
		percentage = float64(p.Completed) / float64(p.Total) * 100
	}

	eta := "N/A"
	if p.EstimatedTimeRemaining > 0 {
		eta = p.EstimatedTimeRemaining.Round(time.Second).String()
	}

	return fmt.Sprintf(
		"Progress: %d/%d (%.1f%%) | Failed: %d | Elapsed: %s | ETA: %s",
		p.Completed,
		p.Total,
		percentage,
		p.Failed,
		p.ElapsedTime.Round(time.Second),
		eta,
	)
}

// BatchRunner は計画内のバッチを推論する
// 結果はバッチ番号の位置に格納するため、並列実行しても集約順序は変わらない
type BatchRunner struct {
	invoker *Invoker
	config  BatchRunnerConfig
}

// NewBatchRunner は新しいBatchRunnerを作成する
func NewBatchRunner(invoker *Invoker, config BatchRunnerConfig) *BatchRunner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &BatchRunner{
		invoker: invoker,
		config:  config,
	}
}

// Run は全バッチを実行する
// 一部のバッチが失敗しても残りは継続する。contextがキャンセルされた場合のみエラーを返す
func (br *BatchRunner) Run(ctx context.Context, plan Plan) ([]BatchResult, error) {
	total := len(plan.Batches)
	if total == 0 {
		return []BatchResult{}, nil
	}

	var mu sync.Mutex
	completed := 0
	failed := 0
	startTime := time.Now()

	results := make([]BatchResult, total)

	semaphore := make(chan struct{}, br.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i := range plan.Batches {
		wg.Add(1)

		go func(index int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				results[index] = BatchResult{
					Index:  index,
					Owners: plan.BatchOwners(index),
					Error:  ctx.Err(),
				}
				return
			}

			reqStartTime := time.Now()
			out, failedWindows, splits, err := br.invoker.InvokeAdaptive(ctx, index, plan.Batches[index])
			duration := time.Since(reqStartTime)

			results[index] = BatchResult{
				Index:    index,
				Owners:   plan.BatchOwners(index),
				Output:   out,
				Splits:   splits,
				Failed:   failedWindows,
				Error:    err,
				Duration: duration,
			}

			mu.Lock()
			completed++
			if err != nil || len(failedWindows) > 0 {
				failed++
			}
			c, f := completed, failed
			mu.Unlock()

			br.notifyProgress(total, c, f, startTime)
		}(i)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// notifyProgress はプログレス状況を通知する
func (br *BatchRunner) notifyProgress(total, completed, failed int, startTime time.Time) {
	if br.config.ProgressCallback == nil {
		return
	}

	elapsed := time.Since(startTime)

	var eta time.Duration
	if completed > 0 {
		avg := elapsed / time.Duration(completed)
		eta = avg * time.Duration(total-completed)
	}

	br.config.ProgressCallback(BatchProgress{
		Total:                  total,
		Completed:              completed,
		Failed:                 failed,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: eta,
	})
}

// DocumentFailure は失敗したウィンドウを持つ文書
type DocumentFailure struct {
	DocumentID string
	Err        error
}

// Failures は失敗したウィンドウの所有文書を出現順に返す
// バッチ全体が失敗した場合はすべての所有文書を返す
func (r BatchResult) Failures() []DocumentFailure {
	var out []DocumentFailure
	seen := make(map[string]struct{})
	for i, id := range r.Owners {
		err := r.Error
		if err == nil {
			err = r.Failed[i]
		}
		if err == nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, DocumentFailure{DocumentID: id, Err: err})
	}
	return out
}

// BatchStats はバッチ処理の統計情報
type BatchStats struct {
	TotalBatches    int
	SuccessCount    int
	FailureCount    int
	FailedWindows   int
	Splits          int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	// FailedDocuments は失敗したウィンドウを持つ文書IDのリスト
	FailedDocuments []string
}

// CalculateBatchStats はバッチ結果から統計情報を計算する
// 一部のウィンドウだけ失敗したバッチも失敗として数える
func CalculateBatchStats(results []BatchResult) BatchStats {
	stats := BatchStats{
		TotalBatches: len(results),
		MinDuration:  time.Duration(1<<63 - 1),
	}

	var totalDuration time.Duration
	seen := make(map[string]struct{})

	for _, result := range results {
		stats.Splits += result.Splits
		if result.Error != nil || len(result.Failed) > 0 {
			stats.FailureCount++
			if result.Error != nil {
				stats.FailedWindows += len(result.Owners)
			} else {
				stats.FailedWindows += len(result.Failed)
			}
			for _, f := range result.Failures() {
				if _, ok := seen[f.DocumentID]; ok {
					continue
				}
				seen[f.DocumentID] = struct{}{}
				stats.FailedDocuments = append(stats.FailedDocuments, f.DocumentID)
			}
			continue
		}

		stats.SuccessCount++
		totalDuration += result.Duration
		if result.Duration < stats.MinDuration {
			stats.MinDuration = result.Duration
		}
		if result.Duration > stats.MaxDuration {
			stats.MaxDuration = result.Duration
		}
	}

	if stats.SuccessCount > 0 {
		stats.AverageDuration = totalDuration / time.Duration(stats.SuccessCount)
	}
	if stats.MinDuration == time.Duration(1<<63-1) {
		stats.MinDuration = 0
	}
	stats.TotalDuration = totalDuration

	return stats
}

// String は統計情報を文字列表現で返す
func (s BatchStats) String() string {
	return fmt.Sprintf(
		"Batch Stats: Total=%d, Success=%d, Failed=%d, FailedWindows=%d, Splits=%d, AvgDuration=%s, MinDuration=%s, MaxDuration=%s",
		s.TotalBatches,
		s.SuccessCount,
		s.FailureCount,
		s.FailedWindows,
		s.Splits,
		s.AverageDuration.Round(time.Millisecond),
		s.MinDuration.Round(time.Millisecond),
		s.MaxDuration.Round(time.Millisecond),
	)
}
