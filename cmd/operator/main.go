package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "operator",
		Short:        "Out-of-band administration for the course marketplace",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to an env-style config file")

	rootCmd.AddCommand(migrateCmd(&configFile))
	rootCmd.AddCommand(certificateCmd(&configFile))
	rootCmd.AddCommand(memberCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
