package jsonl

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Writer は1レコード1行で書き出し、行ごとにフラッシュする
// 途中で失敗しても書きかけの行は残らない
type Writer struct {
	mu sync.Mutex
	bw *bufio.Writer
}

// NewWriter は新しいWriterを作成します
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, 1<<20)}
}

// Write はレコードを1行として書き出します
func (w *Writer) Write(record []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.bw.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush record: %w", err)
	}
	return nil
}
