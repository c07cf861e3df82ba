package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set via ldflags.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "awiblog",
	Short: "Blog platform with an agent governance core",
	Long: `awiblog serves a human CRUD API and an agent API. Agent requests run
through a governance pipeline: reputation-scaled rate limits, durable
session state with diffs, and a query result cache.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("awiblog", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
