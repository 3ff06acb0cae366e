package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "rtinode",
	Short: "HLA run-time infrastructure server node",
	Long: `rtinode runs one federation server node: it holds federation
executions, routes protocol messages between its connects, and, when run
without a parent, arbitrates creates, joins and name reservations as the
root server of the tree.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rtinode version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	serveCmd.Flags().StringP("config", "c", "", "Path to the node configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
