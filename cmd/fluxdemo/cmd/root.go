// Package cmd wires fluxdemo's cobra command tree: a persistent --config
// flag backed by viper, with an env prefix as the fallback when no
// config file is present.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "fluxdemo",
	Short: "Runs small example programs built on the flux runtime",
	Long:  "fluxdemo exercises the flux runtime's pipeline, observability, and config packages end to end.",
}

// Execute runs the root command, exiting the process with status 1 on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .fluxdemo.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug-level logging")
	rootCmd.PersistentFlags().String("otlp-endpoint", "localhost:4317", "OTLP gRPC endpoint for traces and metrics")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".fluxdemo")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("FLUXDEMO")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}
