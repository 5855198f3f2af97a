// Package inference は特徴抽出サーバー（HTTP/JSON）をエンコーダとして使うアダプタ
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 5 * time.Minute

	// エラーコード
	codeOutOfMemory = "out_of_memory"
)

// Config は特徴抽出サーバーの接続設定
type Config struct {
	// BaseURL はサーバーのURL
	BaseURL string
	// Timeout はHTTPクライアントのタイムアウト（バッチ単位のタイムアウトとは別）
	Timeout time.Duration
	// Device は推論デバイス
	Device domain.Device
	// Capability はカタログから得た能力記述子
	Capability domain.Capability
	// HTTPClient を指定した場合は Timeout を無視する
	HTTPClient *http.Client
}

// Encoder は特徴抽出サーバーに推論を依頼する
type Encoder struct {
	client     *http.Client
	baseURL    string
	device     domain.Device
	capability domain.Capability
}

// extractRequest はサーバーへのリクエスト
type extractRequest struct {
	Model    string   `json:"model"`
	Device   string   `json:"device"`
	Inputs   []string `json:"inputs"`
	Signals  []string `json:"signals"`
	PadToken string   `json:"pad_token,omitempty"`
}

// extractResponse はサーバーのレスポンス
// signals はシグナル名 → 入力ごとの行列
type extractResponse struct {
	Signals map[string][][][]float32 `json:"signals"`
	Error   *errorBody               `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New は新しいEncoderを作成する
func New(cfg Config) (*Encoder, error) {
	if cfg.Capability.Model == "" {
		return nil, fmt.Errorf("inference encoder requires a model")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Device == "" {
		cfg.Device = domain.DeviceAuto
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Encoder{
		client:     client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		device:     cfg.Device,
		capability: cfg.Capability,
	}, nil
}

// Capability は能力記述子を返す
func (e *Encoder) Capability() domain.Capability {
	return e.capability
}

// Encode はウィンドウのバッチを推論する
func (e *Encoder) Encode(ctx context.Context, texts []string, signals []string) (map[string][]domain.Representation, error) {
	body, err := json.Marshal(extractRequest{
		Model:    e.capability.Model,
		Device:   string(e.device),
		Inputs:   texts,
		Signals:  signals,
		PadToken: e.capability.PadToken,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded extractResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, decoded.Error, raw)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrModel, decodeErr)
	}
	if decoded.Error != nil {
		return nil, statusError(resp.StatusCode, decoded.Error, raw)
	}

	out := make(map[string][]domain.Representation, len(decoded.Signals))
	for name, perInput := range decoded.Signals {
		reps := make([]domain.Representation, len(perInput))
		for i, rows := range perInput {
			reps[i] = domain.Representation(rows)
		}
		out[name] = reps
	}
	return out, nil
}

// statusError はサーバーのエラーをドメインのエラーに変換する
// 507 または out_of_memory はリソース枯渇として扱う
func statusError(status int, body *errorBody, raw []byte) error {
	message := strings.TrimSpace(string(raw))
	if body != nil {
		message = body.Message
	}
	if status == http.StatusInsufficientStorage || (body != nil && body.Code == codeOutOfMemory) {
		return fmt.Errorf("%w: inference server (status %d): %s", domain.ErrResourceExhausted, status, message)
	}
	return fmt.Errorf("%w: inference server (status %d): %s", domain.ErrModel, status, message)
}

// Ping はサーバーに接続できるか確認する
func (e *Encoder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("inference: failed to create ping request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference: server returned status %d", resp.StatusCode)
	}
	return nil
}

// Close はアイドル接続を閉じる
func (e *Encoder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

var _ domain.Encoder = (*Encoder)(nil)
