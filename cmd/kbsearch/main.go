// Package main is the kbsearch CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/cli"
	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath    = "/usr/local/etc/kbsearch/config.yaml"
	defaultClientTimeout = 2 * time.Minute
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "kbsearch",
		Short: "Similarity search over KB articles and support tickets",
		Long: `kbsearch ingests knowledge base articles and support tickets, embeds them and
answers similarity queries over the stored embeddings.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		serverCMD(opts),
		ingestCMD(opts),
		searchCMD(opts),
		deleteCMD(opts),
		statsCMD(opts),
		statusCMD(opts),
		versionCMD(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, a config.yaml in the
// current directory takes precedence so that commands run from a project directory use
// the project's config. Returns the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and builds the logger.
func (o *rootOptions) setup() (*config.Config, string, *zap.Logger, error) {
	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Debug = cfg.Debug || o.debug
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, path, logger, nil
}

func outputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", string(cli.OutputText), "output format: text or json")
}

func serverFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "server", "", "URL of a running kbsearch server (empty = open storage directly)")
}

func versionCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("kbsearch version %s\n", version)
		},
	}
}
