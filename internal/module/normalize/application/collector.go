package application

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkhlop/nist-news-trec/internal/module/normalize/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

// FieldVector は1文書中の1つのEmbeddingフィールド
type FieldVector struct {
	Name   string
	Values []float64
}

// sample は1フィールド分の標本行列（expected × dim、行優先）
type sample struct {
	dim     int
	data    []float64
	written []int // 書き込まれた行番号（昇順）
}

// Collector は統計用の標本を集める
// 行番号は文書ごとに1つ進み、同じ文書のフィールドは同じ行に書き込まれる
type Collector struct {
	mu       sync.Mutex
	expected int
	rows     int
	fields   map[string]*sample
	order    []string
}

// NewCollector は新しいCollectorを作成します
func NewCollector(expected int) (*Collector, error) {
	if expected <= 0 {
		return nil, apperr.Config("size", "expected sample size must be positive, got %d", expected)
	}
	return &Collector{
		expected: expected,
		fields:   make(map[string]*sample),
	}, nil
}

// Rows は取り込んだ文書数を返す
func (c *Collector) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Add は1文書分のフィールドを次の行に書き込む
// 想定サイズを超えた場合は ErrConfiguration、次元が合わない場合は ErrInvalidRecord を返す
func (c *Collector) Add(fields []FieldVector) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rows >= c.expected {
		return apperr.Config("size", "sample has more than %d documents", c.expected)
	}

	// 検証してから書き込む（途中で失敗しても行を汚さない）
	for _, f := range fields {
		if s, ok := c.fields[f.Name]; ok && len(f.Values) != s.dim {
			return fmt.Errorf("%w: field %s has %d dimensions, want %d", domain.ErrInvalidRecord, f.Name, len(f.Values), s.dim)
		}
	}

	k := c.rows
	for _, f := range fields {
		s, ok := c.fields[f.Name]
		if !ok {
			s = &sample{
				dim:  len(f.Values),
				data: make([]float64, c.expected*len(f.Values)),
			}
			c.fields[f.Name] = s
			c.order = append(c.order, f.Name)
		}
		copy(s.data[k*s.dim:(k+1)*s.dim], f.Values)
		s.written = append(s.written, k)
	}
	c.rows++
	return nil
}

// Stats は各フィールドの次元ごとの統計を計算し、標本を破棄する
// 統計には実際に書き込まれた行だけを使う
func (c *Collector) Stats() (map[string]domain.FieldStats, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]domain.FieldStats, len(c.fields))
	for _, name := range c.order {
		stats[name] = computeStats(c.fields[name])
	}
	order := c.order

	c.fields = make(map[string]*sample)
	c.order = nil
	c.rows = 0
	return stats, order
}

func computeStats(s *sample) domain.FieldStats {
	st := domain.FieldStats{
		Min:   make([]float64, s.dim),
		Mean:  make([]float64, s.dim),
		Max:   make([]float64, s.dim),
		Std:   make([]float64, s.dim),
		Count: len(s.written),
	}
	if len(s.written) == 0 {
		return st
	}

	n := float64(len(s.written))
	for j := 0; j < s.dim; j++ {
		first := s.data[s.written[0]*s.dim+j]
		lo, hi, sum := first, first, 0.0
		for _, k := range s.written {
			v := s.data[k*s.dim+j]
			sum += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		mean := sum / n

		sq := 0.0
		for _, k := range s.written {
			d := s.data[k*s.dim+j] - mean
			sq += d * d
		}

		st.Min[j] = lo
		st.Max[j] = hi
		st.Mean[j] = mean
		st.Std[j] = math.Sqrt(sq / n)
	}
	return st
}
