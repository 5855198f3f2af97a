package domain

import "errors"

// ErrInvalidRecord は正規化できないレコードのエラー
// 正規化ステージでは致命的なエラーとして扱う
var ErrInvalidRecord = errors.New("invalid record")
