package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Document は上流の前処理ステージが出力する1文書
type Document struct {
	ID     string // 一意キー
	Text   string // 前後の空白を除去済みのテキスト
	Record []byte // 元のJSONレコード（パススルー用）
}

// Window は文書のトークン列を切り出した部分列
type Window struct {
	DocumentID string
	Ordinal    int      // 文書内の順序（0始まり）
	Start      int      // 元のトークン列における開始オフセット
	Tokens     []string // 境界マーカー・パディングを含むトークン
}

// DocumentWindows は1文書分のウィンドウをテキスト化したもの
type DocumentWindows struct {
	DocumentID string
	Texts      []string
}

// Shape はシグナルの表現形状
type Shape string

const (
	// ShapeToken は1トークンにつき1行（例: last_hidden_state）
	ShapeToken Shape = "token"
	// ShapeWindow は1ウィンドウにつき1行（例: pooler_output）
	ShapeWindow Shape = "window"
)

// ParseShape は文字列から Shape を取得します
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(s)) {
	case ShapeToken:
		return ShapeToken, nil
	case ShapeWindow:
		return ShapeWindow, nil
	default:
		return "", fmt.Errorf("unknown signal shape: %q", s)
	}
}

var signalNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Signal はエンコーダが公開する表現の種類
type Signal struct {
	Name  string
	Shape Shape
}

// Validate はシグナル定義を検証します
// 名前はそのまま出力フィールド名の一部になる
func (s Signal) Validate() error {
	if !signalNamePattern.MatchString(s.Name) {
		return fmt.Errorf("invalid signal name: %q", s.Name)
	}
	if s.Shape != ShapeToken && s.Shape != ShapeWindow {
		return fmt.Errorf("invalid shape %q for signal %s", s.Shape, s.Name)
	}
	return nil
}

// Representation は1ウィンドウ・1シグナル分の表現
// ShapeToken ではパディングを除いたトークン数の行、ShapeWindow では1行
type Representation [][]float32

// Device は推論デバイスの選択
type Device string

const (
	DeviceAccelerator Device = "cuda"
	DeviceProcessor   Device = "cpu"
	DeviceAuto        Device = "auto"
)

// ParseDevice はCLIのデバイス指定を解釈します（gpu と cuda は同義）
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(s) {
	case "gpu", "cuda":
		return DeviceAccelerator, nil
	case "cpu":
		return DeviceProcessor, nil
	case "auto", "":
		return DeviceAuto, nil
	default:
		return "", fmt.Errorf("unknown device: %q (gpu|cuda|cpu|auto)", s)
	}
}
