package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// DefaultEncoding はエンコーディング未指定時に使うBPEエンコーディング
const DefaultEncoding = "cl100k_base"

// Tiktoken は tiktoken のBPEでテキストをトークン列に分割する
// 各トークンは元テキストのバイト列の断片であり、連結すると元のテキストに戻る
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTiktoken は新しいTiktokenを作成する
func NewTiktoken(encodingName string) (*Tiktoken, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %s: %w", encodingName, err)
	}

	return &Tiktoken{
		encoding: encoding,
		name:     encodingName,
	}, nil
}

// Name はエンコーディング名を返す
func (t *Tiktoken) Name() string {
	return t.name
}

// Tokenize はテキストをトークン断片の列に変換する
// 特殊トークンとして解釈せず、すべて通常のテキストとして扱う
func (t *Tiktoken) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	ids := t.encoding.Encode(text, nil, nil)
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = t.encoding.Decode([]int{id})
	}
	return pieces
}

// Detokenize はトークン断片を連結してテキストに戻す
func (t *Tiktoken) Detokenize(tokens []string) string {
	return strings.Join(tokens, "")
}

var _ domain.Tokenizer = (*Tiktoken)(nil)
