package domain

import (
	"context"
	"fmt"
)

// Capability はエンコーダの能力記述子
// モデル固有の分岐はすべてここに集約し、集約処理はシグナルの形状だけを見る
type Capability struct {
	Model         string
	Signals       []Signal
	StartMarker   string // 境界マーカー（先頭）
	EndMarker     string // 境界マーカー（末尾）
	PadToken      string // 固定長パディング用トークン
	MaxBatchSize  int    // 0 は無制限
	TokenEncoding string // トークナイザのエンコーディング名
}

// Signal は名前からシグナルを取得します
func (c Capability) Signal(name string) (Signal, bool) {
	for _, s := range c.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

// Select は要求されたシグナルを能力記述子から選択します
// names が空の場合は宣言されたすべてのシグナルを返す
func (c Capability) Select(names []string) ([]Signal, error) {
	if len(names) == 0 {
		out := make([]Signal, len(c.Signals))
		copy(out, c.Signals)
		return out, nil
	}

	out := make([]Signal, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		s, ok := c.Signal(name)
		if !ok {
			return nil, fmt.Errorf("model %s does not expose signal %q", c.Model, name)
		}
		out = append(out, s)
	}
	return out, nil
}

// Encoder はウィンドウのバッチをベクトル表現に変換する外部機能
type Encoder interface {
	// Capability は能力記述子を返す
	Capability() Capability

	// Encode は要求されたシグナルごとに、入力と同じ順序で1ウィンドウ1表現を返す
	// リソース枯渇時は ErrResourceExhausted をラップしたエラーを返すこと
	Encode(ctx context.Context, texts []string, signals []string) (map[string][]Representation, error)
}

// ResourceScope は推論ごとに確保・解放が必要なリソースを持つエンコーダが実装する
type ResourceScope interface {
	Acquire(ctx context.Context) error
	Release()
}

// Tokenizer はテキストとトークン列を相互変換する外部機能
type Tokenizer interface {
	// Tokenize はテキストをトークン列に変換する
	Tokenize(text string) []string

	// Detokenize はトークン列をエンコーダの入力テキストに戻す
	Detokenize(tokens []string) string
}
