package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"detbatch/internal/config"
	"detbatch/internal/version"
	"detbatch/pkg/log"
)

var (
	logLevel   string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "detbatch",
	Short: "detbatch runs an object detector over videos",
	Long: `detbatch samples video frames, runs a pretrained detector over them and
writes annotated videos and per-frame detection tables, one video or a whole
index of videos at a time.
Version: ` + version.VERSION + `/` + version.COMMIT,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.InitLog(logLevel)
		// DETBATCH_* overrides may come from a .env file in the working directory.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logrus.WithError(err).Warn("load .env")
		}
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config. The default path may be absent, an explicit one may not.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configFile, rootCmd.PersistentFlags().Changed("config"))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "etc/detbatch.yaml", "Path to config file")

	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(updateDBCommand)
	rootCmd.AddCommand(configCmd)
}

func main() {
	Execute()
}
