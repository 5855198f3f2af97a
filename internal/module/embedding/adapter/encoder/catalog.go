package encoder

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// プロバイダ
const (
	ProviderInference = "inference"
	ProviderOpenAI    = "openai"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// SignalSpec はカタログ上のシグナル定義
type SignalSpec struct {
	Name  string `yaml:"name"`
	Shape string `yaml:"shape"`
}

// ModelSpec はカタログ上のモデル定義
type ModelSpec struct {
	Name         string       `yaml:"name"`
	Provider     string       `yaml:"provider"`
	Encoding     string       `yaml:"encoding"`
	StartMarker  string       `yaml:"start_marker"`
	EndMarker    string       `yaml:"end_marker"`
	PadToken     string       `yaml:"pad_token"`
	MaxBatchSize int          `yaml:"max_batch_size"`
	Signals      []SignalSpec `yaml:"signals"`
}

// Capability はモデル定義を能力記述子に変換する
func (m ModelSpec) Capability() (domain.Capability, error) {
	signals := make([]domain.Signal, 0, len(m.Signals))
	for _, s := range m.Signals {
		shape, err := domain.ParseShape(s.Shape)
		if err != nil {
			return domain.Capability{}, fmt.Errorf("model %s: %w", m.Name, err)
		}
		sig := domain.Signal{Name: s.Name, Shape: shape}
		if err := sig.Validate(); err != nil {
			return domain.Capability{}, fmt.Errorf("model %s: %w", m.Name, err)
		}
		signals = append(signals, sig)
	}

	return domain.Capability{
		Model:         m.Name,
		Signals:       signals,
		StartMarker:   m.StartMarker,
		EndMarker:     m.EndMarker,
		PadToken:      m.PadToken,
		MaxBatchSize:  m.MaxBatchSize,
		TokenEncoding: m.Encoding,
	}, nil
}

// Catalog はモデル名から能力記述子を引くための一覧
type Catalog struct {
	Models []ModelSpec `yaml:"models"`

	index map[string]int
}

// DefaultCatalog は組み込みのカタログを返す
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog はファイルからカタログを読み込む
// path が空の場合は組み込みのカタログを返す
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog はYAMLを解析し、内容を検証する
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	c.index = make(map[string]int, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("model catalog entry %d has no name", i)
		}
		if _, dup := c.index[m.Name]; dup {
			return nil, fmt.Errorf("model %s is listed twice", m.Name)
		}
		switch m.Provider {
		case ProviderInference, ProviderOpenAI:
		default:
			return nil, fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider)
		}
		if len(m.Signals) == 0 {
			return nil, fmt.Errorf("model %s declares no signals", m.Name)
		}
		if _, err := m.Capability(); err != nil {
			return nil, err
		}
		c.index[m.Name] = i
	}
	return &c, nil
}

// Lookup はモデル定義を返す
func (c *Catalog) Lookup(name string) (ModelSpec, bool) {
	i, ok := c.index[name]
	if !ok {
		return ModelSpec{}, false
	}
	return c.Models[i], true
}

// Names はモデル名をソートして返す
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}
