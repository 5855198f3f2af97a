package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/application"
	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
	"github.com/pkhlop/nist-news-trec/internal/platform/container"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
	"github.com/pkhlop/nist-news-trec/internal/shared/jsonl"
)

var (
	windowSizes    = []int{250, 500, 750, 1000}
	windowOverlaps = []int{32, 64, 128}
)

// EmbedFlags は embed コマンドのフラグ
func EmbedFlags() []cli.Flag {
	defaults := application.DefaultEmbedConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "text-field",
			Usage: "Embeddingに使うテキストフィールド",
			Value: defaults.TextField,
		},
		&cli.IntFlag{
			Name:  "window-size",
			Usage: "ウィンドウのトークン数 (250/500/750/1000)。tiktoken で数えるため BERT 系モデルでは 250 を推奨",
			Value: defaults.Window.ChunkSize,
		},
		&cli.IntFlag{
			Name:  "window-overlap",
			Usage: "隣接ウィンドウの重なりトークン数 (32/64/128)",
			Value: defaults.Window.Overlap,
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "1回の推論で処理するウィンドウ数",
			Value: defaults.BatchSize,
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "推論デバイス (gpu/cuda/cpu/auto)",
			Value: "gpu",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "モデル名（models コマンドで一覧を表示）",
			Value: "gpt2",
		},
		&cli.StringFlag{
			Name:  "provider",
			Usage: "エンコーダのプロバイダ (inference/openai、省略時はカタログの値)",
		},
		&cli.StringSliceFlag{
			Name:  "signals",
			Usage: "出力するシグナル（省略時はモデルの全シグナル）",
		},
		&cli.BoolFlag{
			Name:  "add-special",
			Usage: "各ウィンドウを先頭・末尾マーカーで囲む",
		},
		&cli.BoolFlag{
			Name:  "pad",
			Usage: "各ウィンドウをウィンドウサイズまでパディングする",
		},
		&cli.IntFlag{
			Name:  "group-size",
			Usage: "一度に読み込む文書数",
			Value: defaults.GroupSize,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "同時に推論するバッチ数",
			Value: defaults.Concurrency,
		},
		&cli.DurationFlag{
			Name:  "batch-timeout",
			Usage: "バッチ単位のタイムアウト（0 は無制限）",
		},
		&cli.StringFlag{
			Name:  "skip-log-dir",
			Usage: "スキップした文書の記録先ディレクトリ（環境変数 TREC_SKIP_LOG_DIR より優先）",
		},
		&cli.StringFlag{
			Name:  "model-catalog",
			Usage: "モデルカタログのYAMLファイル（環境変数 TREC_MODEL_CATALOG より優先）",
		},
	}
}

// EmbedAction は標準入力の文書にEmbeddingフィールドを追加して標準出力に書き出すコマンドのアクション
// opts はテストでエンコーダ等を差し替えるために使う
func EmbedAction(opts ...container.ContainerOption) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		windowSize := cmd.Int("window-size")
		windowOverlap := cmd.Int("window-overlap")
		if err := requireOneOf("window-size", windowSize, windowSizes); err != nil {
			return err
		}
		if err := requireOneOf("window-overlap", windowOverlap, windowOverlaps); err != nil {
			return err
		}
		device, err := domain.ParseDevice(cmd.String("device"))
		if err != nil {
			return apperr.Config("device", "%v", err)
		}

		// 共通コンテキストの初期化
		appCtx, err := NewAppContext(cmd.String("env"))
		if err != nil {
			return err
		}
		if cmd.IsSet("skip-log-dir") {
			appCtx.Config.SkipLogDir = cmd.String("skip-log-dir")
		}
		if cmd.IsSet("model-catalog") {
			appCtx.Config.Encoder.Catalog = cmd.String("model-catalog")
		}

		containerOpts := append([]container.ContainerOption{
			container.WithContainerLogger(appCtx.Logger()),
			container.WithContainerRunID(appCtx.RunID),
		}, opts...)
		cont, err := container.New(appCtx.Config, container.EncoderParams{
			Model:    cmd.String("model"),
			Provider: cmd.String("provider"),
			Device:   device,
		}, containerOpts...)
		if err != nil {
			return fmt.Errorf("エンコーダの初期化に失敗: %w", err)
		}
		defer func() {
			if err := cont.Close(); err != nil {
				cont.Logger().Warn("failed to close encoder", "error", err)
			}
		}()

		embedCfg := application.DefaultEmbedConfig()
		embedCfg.TextField = cmd.String("text-field")
		embedCfg.Window = application.WindowConfig{
			ChunkSize:   windowSize,
			Overlap:     windowOverlap,
			AddBoundary: cmd.Bool("add-special"),
			Pad:         cmd.Bool("pad"),
		}
		embedCfg.BatchSize = cmd.Int("batch-size")
		embedCfg.GroupSize = cmd.Int("group-size")
		embedCfg.Concurrency = cmd.Int("concurrency")
		embedCfg.BatchTimeout = cmd.Duration("batch-timeout")
		embedCfg.Signals = cmd.StringSlice("signals")

		svc, err := application.NewEmbedService(cont.Encoder, cont.Tokenizer, embedCfg,
			application.WithLogger(cont.Logger()),
			application.WithSkipRecorder(cont.Skips),
		)
		if err != nil {
			return err
		}

		root := cmd.Root()
		return svc.Run(ctx, jsonl.NewReader(root.Reader, embedCfg.Sentinel), jsonl.NewWriter(root.Writer))
	}
}
