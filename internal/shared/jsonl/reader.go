package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultSentinel は2パス正規化の区切り行のデフォルト値（制御文字 NUL）
const DefaultSentinel = "\x00"

// Line は入力ストリームの1行を表します
type Line struct {
	Data     []byte // 改行を除いた行内容
	Sentinel bool   // 区切り行かどうか
	Number   int    // 1始まりの行番号
}

// Reader は1行1レコードのストリームを読み込む
// Embeddingを含む行は数MBになるため bufio.Scanner の行長上限を使わない
type Reader struct {
	br       *bufio.Reader
	sentinel []byte
	line     int
}

// NewReader は新しいReaderを作成します
// sentinel が空の場合は区切り行を認識しない
func NewReader(r io.Reader, sentinel string) *Reader {
	return &Reader{
		br:       bufio.NewReaderSize(r, 1<<20),
		sentinel: []byte(sentinel),
	}
}

// Next は次の行を返す。空行は読み飛ばす
// 入力の終端では io.EOF を返す
func (r *Reader) Next() (Line, error) {
	for {
		data, err := r.br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Line{}, err
		}
		if len(data) == 0 && errors.Is(err, io.EOF) {
			return Line{}, io.EOF
		}
		r.line++

		if len(r.sentinel) > 0 && bytes.HasPrefix(data, r.sentinel) {
			return Line{Sentinel: true, Number: r.line}, nil
		}

		data = bytes.TrimRight(data, "\r\n")
		if len(bytes.TrimSpace(data)) == 0 {
			if errors.Is(err, io.EOF) {
				return Line{}, io.EOF
			}
			continue
		}
		return Line{Data: data, Number: r.line}, nil
	}
}
