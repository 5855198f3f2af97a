package application

import (
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

const (
	defaultStartMarker = "[CLS]"
	defaultEndMarker   = "[SEP]"
	defaultPadToken    = "[PAD]"
)

// WindowConfig はウィンドウ分割の設定
type WindowConfig struct {
	ChunkSize   int  // ウィンドウ長 C
	Overlap     int  // 重なり O（O < C）
	AddBoundary bool // 先頭・末尾マーカーで囲む
	Pad         bool // C まで右詰めでパディングする

	StartMarker string
	EndMarker   string
	PadToken    string
}

// WithCapability は能力記述子のマーカー・パディングトークンを反映した設定を返す
func (c WindowConfig) WithCapability(capability domain.Capability) WindowConfig {
	if capability.StartMarker != "" {
		c.StartMarker = capability.StartMarker
	}
	if capability.EndMarker != "" {
		c.EndMarker = capability.EndMarker
	}
	if capability.PadToken != "" {
		c.PadToken = capability.PadToken
	}
	return c
}

// EffectiveWidth はマーカーを除いたウィンドウ内の本文トークン数 W
func (c WindowConfig) EffectiveWidth() int {
	if c.AddBoundary {
		return c.ChunkSize - 2
	}
	return c.ChunkSize
}

// Step は隣接ウィンドウの開始位置の差 S = W - O
func (c WindowConfig) Step() int {
	return c.EffectiveWidth() - c.Overlap
}

// Validate は設定を検証します
func (c WindowConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return apperr.Config("window-size", "must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 {
		return apperr.Config("window-overlap", "must not be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return apperr.Config("window-overlap", "must be smaller than window size (%d >= %d)", c.Overlap, c.ChunkSize)
	}
	if c.Step() <= 0 {
		// マーカー付きでは W = C-2 のため O < C でも前進できない場合がある
		return apperr.Config("window-overlap", "leaves no room to advance (width %d, overlap %d)", c.EffectiveWidth(), c.Overlap)
	}
	return nil
}

// BuildWindows は1文書のトークン列を重なりのあるウィンドウ列に分割します
// 出力は (tokens, cfg) だけで決まる
func BuildWindows(docID string, tokens []string, cfg WindowConfig) ([]domain.Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	width := cfg.EffectiveWidth()
	n := len(tokens)

	// 分割不要（空文書もここで1ウィンドウになる）
	starts := []int{0}
	if n > width {
		step := cfg.Step()
		starts = starts[:0]
		for start := 0; start < n; start += step {
			starts = append(starts, start)
		}
	}

	windows := make([]domain.Window, 0, len(starts))
	for i, start := range starts {
		end := min(start+width, n)
		windows = append(windows, domain.Window{
			DocumentID: docID,
			Ordinal:    i,
			Start:      start,
			Tokens:     decorate(tokens[start:end], cfg),
		})
	}
	return windows, nil
}

// decorate は境界マーカーとパディングを付与したコピーを返す
func decorate(body []string, cfg WindowConfig) []string {
	size := len(body)
	if cfg.AddBoundary {
		size += 2
	}
	if cfg.Pad && size < cfg.ChunkSize {
		size = cfg.ChunkSize
	}

	out := make([]string, 0, size)
	if cfg.AddBoundary {
		out = append(out, orDefault(cfg.StartMarker, defaultStartMarker))
	}
	out = append(out, body...)
	if cfg.AddBoundary {
		out = append(out, orDefault(cfg.EndMarker, defaultEndMarker))
	}
	if cfg.Pad {
		pad := orDefault(cfg.PadToken, defaultPadToken)
		for len(out) < cfg.ChunkSize {
			out = append(out, pad)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
