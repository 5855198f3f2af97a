package apperr

import (
	"errors"
	"fmt"
)

// ErrConfiguration はパラメータの組み合わせが不正な場合のエラー
// 処理開始前、または検出時点で致命的エラーとして扱う
var ErrConfiguration = errors.New("configuration error")

// ConfigError は不正な設定項目を表します
type ConfigError struct {
	Param  string // 設定項目名
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Param, e.Reason)
}

// Is は errors.Is(err, ErrConfiguration) を成立させる
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config は新しいConfigErrorを作成します
func Config(param, format string, args ...any) error {
	return &ConfigError{
		Param:  param,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsConfiguration は設定エラーかどうかを判定します
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
