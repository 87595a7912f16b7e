package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "smart-auth",
		Short:        "SMART on FHIR authorization service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (.env, yaml, json or toml); environment variables take precedence")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(diagnoseCmd(&configFile))
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
