package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/kbsearch/internal/cli"
	"github.com/hyperjump/kbsearch/internal/dashboard"
)

func deleteCMD(opts *rootOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete documents by article number, tracking index or id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if serverURL != "" {
				client := cli.NewClient(serverURL, defaultClientTimeout)
				for _, id := range args {
					if err := client.Delete(ctx, id); err != nil {
						return err
					}
					cmd.Printf("Deleted %s\n", id)
				}
				return nil
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
			for _, id := range args {
				if err := components.Indexer.DeleteDocument(ctx, id); err != nil {
					return err
				}
				cmd.Printf("Deleted %s\n", id)
			}
			return nil
		},
	}
	serverFlag(cmd, &serverURL)
	return cmd
}

func statsCMD(opts *rootOptions) *cobra.Command {
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document counts and attribute distributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if serverURL != "" {
				st, err := cli.NewClient(serverURL, defaultClientTimeout).Statistics(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStatistics(cmd.OutOrStdout(), st, format)
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
			st, err := dashboard.New(components.Storage, components.Engine).Statistics(ctx)
			if err != nil {
				return err
			}
			return cli.WriteStatistics(cmd.OutOrStdout(), st, format)
		},
	}
	outputFlag(cmd, &output)
	serverFlag(cmd, &serverURL)
	return cmd
}

func statusCMD(opts *rootOptions) *cobra.Command {
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index, cache and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if serverURL != "" {
				st, err := cli.NewClient(serverURL, defaultClientTimeout).Status(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), st, format)
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

			st := &cli.Status{Engine: components.Engine.Stats(), Config: cfg.Summary()}
			if st.Documents, err = components.Storage.CountDocuments(ctx, ""); err != nil {
				return err
			}
			if components.KeywordIndex != nil {
				if n, err := components.KeywordIndex.DocCount(); err == nil {
					st.KeywordDocuments = &n
				}
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	outputFlag(cmd, &output)
	serverFlag(cmd, &serverURL)
	return cmd
}
