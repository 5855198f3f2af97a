package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pkhlop/nist-news-trec/internal/module/normalize/application"
	"github.com/pkhlop/nist-news-trec/internal/module/normalize/domain"
	"github.com/pkhlop/nist-news-trec/internal/shared/jsonl"
)

// NormalizeFlags は normalize コマンドのフラグ
func NormalizeFlags() []cli.Flag {
	defaults := application.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "type",
			Usage: "正規化の種類 (amplitude/sigmoid/none)",
			Value: string(defaults.Kind),
		},
		&cli.IntFlag{
			Name:  "size",
			Usage: "統計を取る最初のブロックの文書数（必須）",
		},
		&cli.StringFlag{
			Name:  "repeat-delimiter",
			Usage: "ブロックの区切り行",
			Value: jsonl.DefaultSentinel,
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "統計と正規化の対象 (disjoint: 区切り行の後のブロックを正規化 / replay: 同じブロックを正規化)",
			Value: string(defaults.Mode),
		},
		&cli.StringFlag{
			Name:  "degenerate",
			Usage: "定数の次元の扱い (propagate: NaN/Infinity を出力 / neutral: 0.5 を出力)",
			Value: string(defaults.Degeneracy),
		},
		&cli.StringFlag{
			Name:  "field-marker",
			Usage: "正規化するフィールド名に含まれる文字列",
			Value: defaults.FieldMarker,
		},
		&cli.StringFlag{
			Name:  "stats-out",
			Usage: "確定した統計をJSONLで書き出すファイルパス",
		},
	}
}

// NormalizeAction は標準入力のEmbeddingフィールドを2パスで正規化するコマンドのアクション
func NormalizeAction(ctx context.Context, cmd *cli.Command) error {
	kind, err := domain.ParseKind(cmd.String("type"))
	if err != nil {
		return err
	}
	mode, err := domain.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}
	policy, err := domain.ParseDegeneracyPolicy(cmd.String("degenerate"))
	if err != nil {
		return err
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}

	opts := []application.Option{application.WithLogger(appCtx.Logger())}
	if path := cmd.String("stats-out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("統計ファイルの作成に失敗: %w", err)
		}
		defer f.Close()
		opts = append(opts, application.WithStatsHook(application.ReportWriter(f)))
	}

	n, err := application.NewNormalizer(application.Config{
		Kind:         kind,
		ExpectedSize: cmd.Int("size"),
		Mode:         mode,
		Degeneracy:   policy,
		FieldMarker:  cmd.String("field-marker"),
	}, opts...)
	if err != nil {
		return err
	}

	root := cmd.Root()
	return n.Run(ctx, jsonl.NewReader(root.Reader, cmd.String("repeat-delimiter")), jsonl.NewWriter(root.Writer))
}
