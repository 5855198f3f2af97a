package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/adapter/encoder"
	"github.com/pkhlop/nist-news-trec/internal/platform/config"
	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

// ModelsFlags は models コマンドのフラグ
func ModelsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "model-catalog",
			Usage: "モデルカタログのYAMLファイル（省略時は環境変数 TREC_MODEL_CATALOG または組み込み）",
		},
	}
}

// ModelsListAction はモデルカタログを表示するコマンドのアクション
func ModelsListAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	path := cfg.Encoder.Catalog
	if cmd.IsSet("model-catalog") {
		path = cmd.String("model-catalog")
	}

	catalog, err := encoder.LoadCatalog(path)
	if err != nil {
		return apperr.Config("model-catalog", "%v", err)
	}

	return renderModelsTable(cmd.Root().Writer, catalog)
}

// === ヘルパー関数 ===

// renderModelsTable はテーブル形式でモデル一覧を表示します
func renderModelsTable(w io.Writer, catalog *encoder.Catalog) error {
	table := tablewriter.NewWriter(w)
	table.Header("Model", "Provider", "Encoding", "Signals", "Markers", "Pad", "Max Batch")

	for _, name := range catalog.Names() {
		spec, _ := catalog.Lookup(name)

		signals := make([]string, 0, len(spec.Signals))
		for _, s := range spec.Signals {
			signals = append(signals, fmt.Sprintf("%s(%s)", s.Name, s.Shape))
		}

		markers := "-"
		if spec.StartMarker != "" || spec.EndMarker != "" {
			markers = spec.StartMarker + " " + spec.EndMarker
		}
		pad := spec.PadToken
		if pad == "" {
			pad = "-"
		}
		maxBatch := "-"
		if spec.MaxBatchSize > 0 {
			maxBatch = fmt.Sprintf("%d", spec.MaxBatchSize)
		}

		if err := table.Append(
			spec.Name,
			spec.Provider,
			spec.Encoding,
			strings.Join(signals, ", "),
			markers,
			pad,
			maxBatch,
		); err != nil {
			return fmt.Errorf("failed to render model table: %w", err)
		}
	}

	return table.Render()
}
