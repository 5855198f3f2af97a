package encoder

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// ThrottleConfig はエンコーダ呼び出しの制限
type ThrottleConfig struct {
	// RequestsPerMinute は1分あたりの最大リクエスト数（0以下は無制限）
	RequestsPerMinute int
	// Slots は同時に推論できるバッチ数（デバイスのメモリに載る数、0以下は無制限）
	Slots int
}

// Throttled はレート制限とデバイススロットを持つエンコーダ
// domain.ResourceScope を実装し、Invoker が推論の前後で確保・解放する
type Throttled struct {
	inner   domain.Encoder
	config  ThrottleConfig
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewThrottled はエンコーダをレート制限付きでラップする
func NewThrottled(inner domain.Encoder, config ThrottleConfig) *Throttled {
	t := &Throttled{
		inner:  inner,
		config: config,
	}
	if config.RequestsPerMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), config.RequestsPerMinute)
	}
	if config.Slots > 0 {
		t.slots = make(chan struct{}, config.Slots)
	}
	return t
}

// Capability は内側のエンコーダの能力記述子を返す
func (t *Throttled) Capability() domain.Capability {
	return t.inner.Capability()
}

// Encode は内側のエンコーダを呼び出す
func (t *Throttled) Encode(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
	return t.inner.Encode(ctx, texts, signals)
}

// Acquire はデバイススロットとリクエスト枠を確保する
// contextがキャンセルされた場合はエラーを返す
func (t *Throttled) Acquire(ctx context.Context) error {
	if t.slots != nil {
		select {
		case t.slots <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("device slot wait failed: %w", ctx.Err())
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			t.releaseSlot()
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	if scope, ok := t.inner.(domain.ResourceScope); ok {
		if err := scope.Acquire(ctx); err != nil {
			t.releaseSlot()
			return err
		}
	}
	return nil
}

// Release は確保したリソースを解放する
// Acquire が成功した後に必ず呼ぶこと（通常はdefer文で）
func (t *Throttled) Release() {
	if scope, ok := t.inner.(domain.ResourceScope); ok {
		scope.Release()
	}
	t.releaseSlot()
}

func (t *Throttled) releaseSlot() {
	if t.slots != nil {
		<-t.slots
	}
}

// Close は内側のエンコーダを閉じる
func (t *Throttled) Close() error {
	if c, ok := t.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Status は現在の状態を返す（デバッグ・監視用）
func (t *Throttled) Status() ThrottleStatus {
	status := ThrottleStatus{
		RequestsPerMinute: t.config.RequestsPerMinute,
		Slots:             t.config.Slots,
	}
	if t.slots != nil {
		status.ActiveSlots = len(t.slots)
	}
	if t.limiter != nil {
		status.AvailableTokens = t.limiter.Tokens()
	}
	return status
}

// ThrottleStatus は制限の状態
type ThrottleStatus struct {
	RequestsPerMinute int
	AvailableTokens   float64
	Slots             int
	ActiveSlots       int
}

// String はステータスを文字列表現で返す
func (s ThrottleStatus) String() string {
	return fmt.Sprintf(
		"Throttle: max=%d/min, available=%.0f, slots=%d/%d",
		s.RequestsPerMinute,
		s.AvailableTokens,
		s.ActiveSlots,
		s.Slots,
	)
}

var (
	_ domain.Encoder       = (*Throttled)(nil)
	_ domain.ResourceScope = (*Throttled)(nil)
)
