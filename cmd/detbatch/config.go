package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"detbatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file helpers",
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the config file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		data, err := config.Schema()
		if err != nil {
			logrus.WithError(err).Fatal("generate schema")
		}
		fmt.Fprintln(os.Stdout, string(data))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		conf, err := loadConfig()
		if err != nil {
			logrus.WithError(err).Fatal("load config")
		}
		data, err := yaml.Marshal(conf)
		if err != nil {
			logrus.WithError(err).Fatal("marshal config")
		}
		fmt.Fprint(os.Stdout, string(data))
	},
}

func init() {
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configShowCmd)
}
