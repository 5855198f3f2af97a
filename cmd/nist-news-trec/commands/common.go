package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/pkhlop/nist-news-trec/internal/platform/config"
	"github.com/pkhlop/nist-news-trec/internal/platform/logger"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

// 終了コード
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config *config.Config
	RunID  string
	logger *slog.Logger
}

// NewAppContext は設定ファイルを読み込み、ロガーを初期化して AppContext を作成する
func NewAppContext(envFile string) (*AppContext, error) {
	// 設定の読み込み（platform層を使用）
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, apperr.Config("TREC_LOG_LEVEL", "%v", err)
	}

	// ロガーの初期化（標準出力はデータストリームのため標準エラー出力へ）
	logCfg := logger.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Log.Format
	logCfg.Output = os.Stderr

	runID := uuid.NewString()
	return &AppContext{
		Config: cfg,
		RunID:  runID,
		logger: logger.New(logCfg).With("run_id", runID),
	}, nil
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.logger != nil {
		return ac.logger
	}
	return slog.Default()
}

// ExitCode はエラーに対応する終了コードを返す
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, apperr.ErrConfiguration):
		return ExitConfiguration
	default:
		return ExitFailure
	}
}

// requireOneOf は値が選択肢に含まれることを検証する
func requireOneOf(param string, value int, choices []int) error {
	if !slices.Contains(choices, value) {
		return apperr.Config(param, "must be one of %v, got %d", choices, value)
	}
	return nil
}
