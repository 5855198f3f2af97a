package jsonl

import (
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

// AppendVector はベクトルをJSON配列として dst に追記します
// 非有限値は NaN / Infinity / -Infinity として書き出す（Pythonの json.dumps と同じ表記）
func AppendVector(dst []byte, v []float64) []byte {
	dst = append(dst, '[')
	for i, x := range v {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendFloat(dst, x)
	}
	return append(dst, ']')
}

// EncodeVector はベクトルをJSON配列にエンコードします
func EncodeVector(v []float64) []byte {
	return AppendVector(make([]byte, 0, len(v)*20+2), v)
}

// appendFloat は encoding/json と同じ規則で数値を書き出す
func appendFloat(b []byte, f float64) []byte {
	switch {
	case math.IsNaN(f):
		return append(b, "NaN"...)
	case math.IsInf(f, 1):
		return append(b, "Infinity"...)
	case math.IsInf(f, -1):
		return append(b, "-Infinity"...)
	}

	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	b = strconv.AppendFloat(b, f, format, -1, 64)
	if format == 'e' {
		// e-09 を e-9 に整形
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return b
}

// ParseVector は数値のみからなる空でない配列をベクトルとして読み取ります
func ParseVector(value gjson.Result) ([]float64, bool) {
	if !value.IsArray() {
		return nil, false
	}
	elems := value.Array()
	if len(elems) == 0 {
		return nil, false
	}
	vec := make([]float64, len(elems))
	for i, e := range elems {
		if e.Type != gjson.Number {
			return nil, false
		}
		vec[i] = e.Float()
	}
	return vec, true
}
