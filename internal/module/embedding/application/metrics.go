package application

import (
	"log/slog"
	"sync"
	"time"
)

// Metrics はEmbedding生成の処理状況を記録する
type Metrics struct {
	mu sync.Mutex

	// 文書
	documentsRead    int
	documentsEmitted int
	documentsSkipped int
	skipsByReason    map[string]int

	// ウィンドウ・トークン
	windows int
	tokens  int

	// バッチ
	batches        int
	failedBatches  int
	resourceSplits int

	// レイテンシ
	totalLatency time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration

	startTime time.Time
}

// NewMetrics は新しいMetricsを作成する
func NewMetrics() *Metrics {
	return &Metrics{
		skipsByReason: make(map[string]int),
		startTime:     time.Now(),
	}
}

// RecordDocument は読み込んだ文書のトークン数・ウィンドウ数を記録する
func (m *Metrics) RecordDocument(tokens, windows int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.documentsRead++
	m.tokens += tokens
	m.windows += windows
}

// RecordBatch はバッチの処理結果を記録する
func (m *Metrics) RecordBatch(latency time.Duration, splits int, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	m.resourceSplits += splits
	if failed {
		m.failedBatches++
		return
	}

	m.totalLatency += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
}

// RecordEmitted は出力した文書を記録する
func (m *Metrics) RecordEmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentsEmitted++
}

// RecordSkipped はスキップした文書を理由別に記録する
func (m *Metrics) RecordSkipped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentsSkipped++
	m.skipsByReason[reason]++
}

// MetricsSnapshot はある時点のメトリクス
type MetricsSnapshot struct {
	DocumentsRead    int
	DocumentsEmitted int
	DocumentsSkipped int
	SkipsByReason    map[string]int
	Windows          int
	Tokens           int
	Batches          int
	FailedBatches    int
	ResourceSplits   int
	AverageLatency   time.Duration
	MinLatency       time.Duration
	MaxLatency       time.Duration
	Elapsed          time.Duration
}

// Snapshot は現在のメトリクスを返す
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	skips := make(map[string]int, len(m.skipsByReason))
	for k, v := range m.skipsByReason {
		skips[k] = v
	}

	var avg time.Duration
	if ok := m.batches - m.failedBatches; ok > 0 {
		avg = m.totalLatency / time.Duration(ok)
	}

	return MetricsSnapshot{
		DocumentsRead:    m.documentsRead,
		DocumentsEmitted: m.documentsEmitted,
		DocumentsSkipped: m.documentsSkipped,
		SkipsByReason:    skips,
		Windows:          m.windows,
		Tokens:           m.tokens,
		Batches:          m.batches,
		FailedBatches:    m.failedBatches,
		ResourceSplits:   m.resourceSplits,
		AverageLatency:   avg,
		MinLatency:       m.minLatency,
		MaxLatency:       m.maxLatency,
		Elapsed:          time.Since(m.startTime),
	}
}

// LogValue は slog 出力用の表現を返す
func (s MetricsSnapshot) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("documents_read", s.DocumentsRead),
		slog.Int("documents_emitted", s.DocumentsEmitted),
		slog.Int("documents_skipped", s.DocumentsSkipped),
		slog.Int("windows", s.Windows),
		slog.Int("tokens", s.Tokens),
		slog.Int("batches", s.Batches),
		slog.Int("failed_batches", s.FailedBatches),
		slog.Int("resource_splits", s.ResourceSplits),
		slog.Duration("avg_latency", s.AverageLatency),
		slog.Duration("min_latency", s.MinLatency),
		slog.Duration("max_latency", s.MaxLatency),
		slog.Duration("elapsed", s.Elapsed),
	}
	for reason, n := range s.SkipsByReason {
		attrs = append(attrs, slog.Int("skipped_"+reason, n))
	}
	return slog.GroupValue(attrs...)
}
