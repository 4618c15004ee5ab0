package main

import (
	"errors"
	"io/fs"

	"github.com/fyerfyer/doc-index/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	appConfig  *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "docindex",
	Short:         "Per-document vector index builder and retriever",
	Long:          "Build a nearest-neighbor index for each document's text and query it for the most relevant chunks.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env 文件是可选的
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
}
