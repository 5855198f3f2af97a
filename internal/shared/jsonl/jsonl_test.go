package jsonl

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func readAll(t *testing.T, r *Reader) []Line {
	t.Helper()
	var lines []Line
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestReader_Sentinel(t *testing.T) {
	input := "{\"id\":1}\n\n{\"id\":2}\r\n\x00\n{\"id\":3}"
	lines := readAll(t, NewReader(strings.NewReader(input), DefaultSentinel))

	require.Len(t, lines, 4)
	assert.Equal(t, `{"id":1}`, string(lines[0].Data))
	assert.Equal(t, `{"id":2}`, string(lines[1].Data))
	assert.True(t, lines[2].Sentinel)
	assert.Equal(t, `{"id":3}`, string(lines[3].Data))
	assert.Equal(t, 5, lines[3].Number)
}

func TestReader_NoSentinel(t *testing.T) {
	lines := readAll(t, NewReader(strings.NewReader("\x00\n{}\n"), ""))
	require.Len(t, lines, 2)
	assert.False(t, lines[0].Sentinel)
}

func TestReader_LongLine(t *testing.T) {
	long := `{"text":"` + strings.Repeat("a", 3<<20) + `"}`
	lines := readAll(t, NewReader(strings.NewReader(long+"\n"), DefaultSentinel))
	require.Len(t, lines, 1)
	assert.Len(t, lines[0].Data, len(long))
}

func TestWriter_Write(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write([]byte(`{"id":"a"}`)))
	require.NoError(t, w.Write([]byte(`{"id":"b"}`)))

	// 行ごとにフラッシュされている
	assert.Equal(t, "{\"id\":\"a\"}\n{\"id\":\"b\"}\n", buf.String())
}

func TestField(t *testing.T) {
	obj, err := Parse([]byte(`{"a.b":1,"text":"hello","id":42}`))
	require.NoError(t, err)

	v, ok := Field(obj, "a.b")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int())

	id, ok := Field(obj, "id")
	require.True(t, ok)
	s, ok := Scalar(id)
	require.True(t, ok)
	assert.Equal(t, "42", s)

	_, ok = Field(obj, "missing")
	assert.False(t, ok)
}

func TestParse_NotObject(t *testing.T) {
	_, err := Parse([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = Parse([]byte(`{"broken":`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestAppendField(t *testing.T) {
	record := []byte(`{"id":"d1","text":"x"}`)

	out, err := AppendField(record, "embedding_pooler_output_mean", []byte(`[0.5,1]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"d1","text":"x","embedding_pooler_output_mean":[0.5,1]}`, string(out))

	// 既存フィールドは上書きしない
	_, err = AppendField(out, "embedding_pooler_output_mean", []byte(`[0]`))
	assert.ErrorIs(t, err, ErrFieldExists)
}

func TestRewrite_PreservesOrderAndRaw(t *testing.T) {
	obj, err := Parse([]byte(`{"z":  1.50,"embedding_x":[1,2],"a":{"k":"v"}}`))
	require.NoError(t, err)

	out, err := Rewrite(obj, func(name string, value gjson.Result) ([]byte, error) {
		if name == "embedding_x" {
			return []byte(`[0,1]`), nil
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"z":1.50,"embedding_x":[0,1],"a":{"k":"v"}}`, string(out))
}

func TestAppendVector(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want string
	}{
		{name: "通常値", in: []float64{0.5, 1, -2.25}, want: `[0.5,1,-2.25]`},
		{name: "指数表記", in: []float64{1e-7, 1e21}, want: `[1e-7,1e+21]`},
		{name: "非有限値", in: []float64{math.NaN(), math.Inf(1), math.Inf(-1)}, want: `[NaN,Infinity,-Infinity]`},
		{name: "空", in: nil, want: `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(EncodeVector(tt.in)))
		})
	}
}

func TestParseVector(t *testing.T) {
	obj, err := Parse([]byte(`{"v":[1,2.5,-3],"s":"abc","e":[],"m":[1,"x"]}`))
	require.NoError(t, err)

	v, _ := Field(obj, "v")
	vec, ok := ParseVector(v)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2.5, -3}, vec)

	for _, name := range []string{"s", "e", "m"} {
		f, _ := Field(obj, name)
		_, ok := ParseVector(f)
		assert.False(t, ok, name)
	}
}
