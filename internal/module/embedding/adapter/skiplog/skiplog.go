package skiplog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// Entry はスキップした文書のログレコード
type Entry struct {
	// Timestamp は記録時刻
	Timestamp time.Time `json:"timestamp"`
	// RunID は実行ID
	RunID string `json:"run_id"`
	// DocumentID はスキップした文書のID（IDがない行は line:N）
	DocumentID string `json:"document_id"`
	// Reason はスキップ理由
	Reason string `json:"reason"`
	// Batch はバッチ番号（バッチに属さない場合は -1）
	Batch int `json:"batch"`
	// ErrorMessage はエラーメッセージ
	ErrorMessage string `json:"error_message,omitempty"`
}

// Recorder はスキップした文書を日付ごとのJSONLファイルに追記する
type Recorder struct {
	logFile  *os.File
	logMutex sync.Mutex
	enabled  bool
	runID    string
	log      *slog.Logger
	now      func() time.Time
}

// NewRecorder は新しいRecorderを作成します
// logDir が空の場合はファイルに記録しない
func NewRecorder(logDir, runID string, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		runID: runID,
		log:   log,
		now:   time.Now,
	}
	if logDir == "" {
		return r, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create skip log directory: %w", err)
	}

	// ログファイルを作成（日付でローテーション）
	logFileName := fmt.Sprintf("skipped_%s.jsonl", r.now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open skip log file: %w", err)
	}

	r.logFile = logFile
	r.enabled = true
	return r, nil
}

// Path はログファイルのパスを返す（無効な場合は空）
func (r *Recorder) Path() string {
	if r.logFile == nil {
		return ""
	}
	return r.logFile.Name()
}

// Close はログファイルを閉じます
func (r *Recorder) Close() error {
	if r.logFile != nil {
		return r.logFile.Close()
	}
	return nil
}

// RecordSkip はスキップした文書をログに記録します
func (r *Recorder) RecordSkip(rec domain.SkipRecord) error {
	if !r.enabled {
		return nil
	}

	entry := Entry{
		Timestamp:  r.now().UTC(),
		RunID:      r.runID,
		DocumentID: rec.DocumentID,
		Reason:     rec.Reason,
		Batch:      rec.Batch,
	}
	if rec.Err != nil {
		entry.ErrorMessage = rec.Err.Error()
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal skip record: %w", err)
	}

	r.logMutex.Lock()
	defer r.logMutex.Unlock()

	if _, err := r.logFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write skip log: %w", err)
	}

	r.log.Debug("Skip recorded", "documentID", rec.DocumentID, "path", r.logFile.Name())
	return nil
}

var _ domain.SkipRecorder = (*Recorder)(nil)
