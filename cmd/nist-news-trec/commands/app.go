package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/pkhlop/nist-news-trec/internal/platform/container"
)

// NewApp はコマンドツリーを組み立てる
func NewApp(opts ...container.ContainerOption) *cli.Command {
	return &cli.Command{
		Name:  "nist-news-trec",
		Usage: "TREC News トラック向けの文書Embedding生成・正規化パイプライン",
		Commands: []*cli.Command{
			{
				Name:   "embed",
				Usage:  "JSONL文書にEmbeddingフィールドを追加",
				Flags:  EmbedFlags(),
				Action: EmbedAction(opts...),
			},
			{
				Name:   "normalize",
				Usage:  "Embeddingフィールドを2パスで正規化",
				Flags:  NormalizeFlags(),
				Action: NormalizeAction,
			},
			{
				Name:   "models",
				Usage:  "モデルカタログを表示",
				Flags:  ModelsFlags(),
				Action: ModelsListAction,
			},
		},
	}
}
