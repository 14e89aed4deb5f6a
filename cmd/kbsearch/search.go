package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kbsearch/internal/cli"
	"github.com/hyperjump/kbsearch/internal/models"
)

func searchCMD(opts *rootOptions) *cobra.Command {
	var (
		k         int
		kindFlag  string
		metric    string
		keyword   bool
		output    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the most similar articles and tickets",
		Long: `Embeds the query and ranks stored documents by similarity. With --keyword the
full-text index is queried instead and no embedding is computed.`,
		Example: `  kbsearch search "printer offline after update"
  kbsearch search --kind ticket --k 10 --metric dot "vpn drops"
  kbsearch search --keyword -o json "reset password"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			var kind models.Kind
			if kindFlag != "" {
				if kind, err = models.ParseKind(kindFlag); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			q := &models.SearchQuery{Query: query, K: k, Kind: kind, Metric: metric}

			if serverURL != "" {
				client := cli.NewClient(serverURL, defaultClientTimeout)
				if keyword {
					results, err := client.Keyword(ctx, query, kind, k)
					if err != nil {
						return err
					}
					return cli.WriteKeywordResults(out, results, format)
				}
				resp, err := client.Search(ctx, q)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(out, resp, format)
			}

			cfg, _, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			if keyword {
				if components.KeywordIndex == nil {
					return fmt.Errorf("keyword index is not available")
				}
				limit := k
				if limit <= 0 {
					limit = cfg.Search.DefaultK
				}
				results, err := components.KeywordIndex.Search(ctx, query, kind, limit)
				if err != nil {
					return err
				}
				return cli.WriteKeywordResults(out, results, format)
			}
			if q.K <= 0 {
				q.K = cfg.Search.DefaultK
			}
			resp, err := components.Engine.Query(ctx, q, cfg.Search.MaxK, components.Storage)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(out, resp, format)
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&kindFlag, "kind", "", "restrict to article or ticket")
	cmd.Flags().StringVar(&metric, "metric", "", "similarity metric: cosine, dot or euclidean (default from config)")
	cmd.Flags().BoolVar(&keyword, "keyword", false, "use the full-text keyword index")
	outputFlag(cmd, &output)
	serverFlag(cmd, &serverURL)
	return cmd
}
