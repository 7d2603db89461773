package cmd

import (
	"encoding/json"
	"os"

	"newspipe/types"

	"github.com/spf13/cobra"
)

var (
	flagQuery    string
	flagLimit    int
	flagLanguage string
	flagSource   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion job in-process and print the result",
	Example: `  newspipe run --query AI --limit 10
  newspipe run --query climate --source rss:hn`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p, err := newPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		job := types.IngestionJob{Query: flagQuery, Limit: flagLimit, Language: flagLanguage, Source: flagSource}
		result, procErr := p.orch.Process(cmd.Context(), job)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		return procErr
	},
}

func init() {
	runCmd.Flags().StringVarP(&flagQuery, "query", "q", "", "search query (required)")
	runCmd.Flags().IntVarP(&flagLimit, "limit", "n", types.DefaultLimit, "maximum number of articles (1-100)")
	runCmd.Flags().StringVar(&flagLanguage, "language", types.DefaultLanguage, "2-letter language code")
	runCmd.Flags().StringVar(&flagSource, "source", types.DefaultSource, `provider: "newsapi" or "rss:<preset|url>"`)
	_ = runCmd.MarkFlagRequired("query")
}
