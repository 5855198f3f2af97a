package jsonl

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrNotObject はレコードがJSONオブジェクトでない場合のエラー
	ErrNotObject = errors.New("record is not a JSON object")

	// ErrFieldExists は既存フィールドを上書きしようとした場合のエラー
	ErrFieldExists = errors.New("field already exists")
)

// Parse はレコードをオブジェクトとして解析します
func Parse(record []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(record) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrNotObject)
	}
	res := gjson.ParseBytes(record)
	if !res.IsObject() {
		return gjson.Result{}, ErrNotObject
	}
	return res, nil
}

// Field はトップレベルのフィールドを名前の完全一致で取得します
// gjson のパス構文（. * ? など）を解釈しないため任意のフィールド名を扱える
func Field(obj gjson.Result, name string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.String() == name {
			found = value
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Scalar は文字列または数値のフィールドを文字列として返す
// 文字列以外は生のJSON表現を使う
func Scalar(value gjson.Result) (string, bool) {
	switch value.Type {
	case gjson.String:
		return value.Str, true
	case gjson.Number:
		return value.Raw, true
	default:
		return "", false
	}
}

// AppendField はフィールドを末尾に追加します
// 既に同名のフィールドがある場合は ErrFieldExists を返し、レコードは変更しない
func AppendField(record []byte, name string, raw []byte) ([]byte, error) {
	obj, err := Parse(record)
	if err != nil {
		return record, err
	}
	if _, exists := Field(obj, name); exists {
		return record, fmt.Errorf("%w: %s", ErrFieldExists, name)
	}
	// name はシグナル名から生成した [A-Za-z0-9_] のみの名前であり、パスのエスケープは不要
	out, err := sjson.SetRawBytes(record, name, raw)
	if err != nil {
		return record, fmt.Errorf("failed to append field %s: %w", name, err)
	}
	return out, nil
}

// RewriteFunc はフィールド値を置き換える関数
// nil を返した場合は元の値をそのまま残す
type RewriteFunc func(name string, value gjson.Result) ([]byte, error)

// Rewrite はフィールドの順序と他フィールドの表現を保ったままレコードを組み立て直します
func Rewrite(obj gjson.Result, fn RewriteFunc) ([]byte, error) {
	out := make([]byte, 0, len(obj.Raw))
	out = append(out, '{')
	first := true
	var rerr error
	obj.ForEach(func(key, value gjson.Result) bool {
		replaced, err := fn(key.String(), value)
		if err != nil {
			rerr = err
			return false
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = append(out, key.Raw...)
		out = append(out, ':')
		if replaced != nil {
			out = append(out, replaced...)
		} else {
			out = append(out, value.Raw...)
		}
		return true
	})
	if rerr != nil {
		return nil, rerr
	}
	out = append(out, '}')
	return out, nil
}
