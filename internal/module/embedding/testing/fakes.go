package testing

import (
	"context"
	"strings"
	"sync"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// WhitespaceTokenizer は空白区切りのテスト用トークナイザです
type WhitespaceTokenizer struct{}

// Tokenize はテキストを空白で分割します
func (WhitespaceTokenizer) Tokenize(text string) []string {
	return strings.Fields(text)
}

// Detokenize はトークンを空白で連結します
func (WhitespaceTokenizer) Detokenize(tokens []string) string {
	return strings.Join(tokens, " ")
}

// TestCapability はテスト用の能力記述子を生成します
func TestCapability(signals ...domain.Signal) domain.Capability {
	if len(signals) == 0 {
		signals = []domain.Signal{
			{Name: "last_hidden_state", Shape: domain.ShapeToken},
			{Name: "pooler_output", Shape: domain.ShapeWindow},
		}
	}
	return domain.Capability{
		Model:       "fake-encoder",
		Signals:     signals,
		StartMarker: "[CLS]",
		EndMarker:   "[SEP]",
		PadToken:    "[PAD]",
	}
}

// FakeEncoder はテスト用のエンコーダです
// EncodeFunc が未設定の場合は入力テキストから決定的な表現を生成する
//   - token 形状: パディング以外の各トークンにつき [トークン長, トークン位置]
//   - window 形状: [トークン数, テキスト長]
type FakeEncoder struct {
	Cap        domain.Capability
	EncodeFunc func(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error)

	mu    sync.Mutex
	calls [][]string
}

// NewFakeEncoder は新しいFakeEncoderを作成します
func NewFakeEncoder(capability domain.Capability) *FakeEncoder {
	return &FakeEncoder{Cap: capability}
}

// Capability は能力記述子を返します
func (f *FakeEncoder) Capability() domain.Capability {
	return f.Cap
}

// Encode はEncodeのフェイク実装です
func (f *FakeEncoder) Encode(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.EncodeFunc != nil {
		return f.EncodeFunc(ctx, texts, signals)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DeterministicOutput(f.Cap, texts, signals), nil
}

// Calls は呼び出されたバッチを順に返します
func (f *FakeEncoder) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// DeterministicOutput はFakeEncoderのデフォルト出力を生成します
func DeterministicOutput(capability domain.Capability, texts []string, signals []string) map[string][]domain.Representation {
	out := make(map[string][]domain.Representation, len(signals))
	for _, name := range signals {
		sig, ok := capability.Signal(name)
		if !ok {
			continue
		}
		reps := make([]domain.Representation, len(texts))
		for i, text := range texts {
			tokens := strings.Fields(text)
			switch sig.Shape {
			case domain.ShapeToken:
				rows := make(domain.Representation, 0, len(tokens))
				for j, tok := range tokens {
					if tok == capability.PadToken {
						continue
					}
					rows = append(rows, []float32{float32(len(tok)), float32(j)})
				}
				reps[i] = rows
			case domain.ShapeWindow:
				reps[i] = domain.Representation{{float32(len(tokens)), float32(len(text))}}
			}
		}
		out[name] = reps
	}
	return out
}

// ScopedEncoder はリソースの確保・解放を数えるエンコーダです
type ScopedEncoder struct {
	*FakeEncoder

	AcquireErr error

	mu       sync.Mutex
	acquired int
	released int
}

// Acquire はリソースを確保します
func (s *ScopedEncoder) Acquire(ctx context.Context) error {
	if s.AcquireErr != nil {
		return s.AcquireErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	return nil
}

// Release はリソースを解放します
func (s *ScopedEncoder) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

// Counts は確保・解放の回数を返します
func (s *ScopedEncoder) Counts() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

// SkipCollector はスキップ記録をメモリに保持します
type SkipCollector struct {
	mu      sync.Mutex
	Records []domain.SkipRecord
}

// RecordSkip はスキップを記録します
func (c *SkipCollector) RecordSkip(rec domain.SkipRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Records = append(c.Records, rec)
	return nil
}

// IDs は記録された文書IDを順に返します
func (c *SkipCollector) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.Records))
	for i, r := range c.Records {
		ids[i] = r.DocumentID
	}
	return ids
}
