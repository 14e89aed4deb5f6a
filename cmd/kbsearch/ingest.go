package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kbsearch/internal/cli"
	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/models"
)

func ingestCMD(opts *rootOptions) *cobra.Command {
	var (
		kindFlag  string
		output    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file-or-directory>...",
		Short: "Ingest article or ticket files",
		Long: `Ingests CSV/XLSX uploads (one document per row) and article files (.txt, .md,
.html, .pdf, .docx, .odt, .rtf). Directories are walked recursively and filtered by the
configured watch extensions.`,
		Example: `  kbsearch ingest --kind ticket tickets.xlsx
  kbsearch ingest articles/
  kbsearch ingest --server http://localhost:8080 KB0042-printer.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if serverURL != "" {
				var defaults config.Config
				config.ApplyDefaults(&defaults)
				files, err := uploadFiles(args, defaults.Watch.Extensions)
				if err != nil {
					return err
				}
				client := cli.NewClient(serverURL, defaultClientTimeout)
				var errs []error
				for _, path := range files {
					summary, err := client.Upload(ctx, path, kind)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", path, err))
						continue
					}
					if err := cli.WriteIngestSummary(out, summary, format); err != nil {
						return err
					}
				}
				return errors.Join(errs...)
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

			var errs []error
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if info.IsDir() {
					n, err := components.Indexer.IndexDirectory(ctx, path, kind, cfg.Watch.Extensions)
					if format == cli.OutputText {
						cmd.Printf("Indexed %d file(s) from %s\n", n, path)
					}
					if err != nil {
						errs = append(errs, err)
					}
					continue
				}
				batch, err := components.Indexer.IndexFile(ctx, path, kind)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				if err := cli.WriteIngestSummary(out, batch.Summarize(filepath.Base(path), kind), format); err != nil {
					return err
				}
				if err := batch.Err(); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", string(models.KindArticle), "document kind: article or ticket")
	outputFlag(cmd, &output)
	serverFlag(cmd, &serverURL)
	return cmd
}

// uploadFiles expands directories into the files a server upload would accept.
func uploadFiles(paths []string, extensions []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && indexer.ExtensionAllowed(filepath.Ext(p), extensions) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
