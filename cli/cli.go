// Package cli implements the nbdt-fetch demonstration command: a thin
// cobra wrapper over the channel/painter/refsync transport, modeled on the
// root-command-and-subcommand-registration pattern of a typical Go CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const toolVersion = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "nbdt-fetch",
	Short: "nbdt-fetch demonstrates the Merkle-verified dataset transport",
	Long: `nbdt-fetch opens a remote vector dataset over HTTP range requests,
verifying every fetched chunk against its Merkle reference tree and caching
verified bytes locally.`,
	Run: func(cmd *cobra.Command, args []string) {
		if version {
			fmt.Printf("nbdt-fetch version %s\n", toolVersion)
			os.Exit(0)
		}
		cmd.Help()
	},
}

var version bool

// Execute runs the root command, exiting the process with status 1 on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&version, "version", false, "print the tool version")
	rootCmd.PersistentFlags().StringVar(&cacheDirFlag, "cache-dir", "", "local cache directory (default: OS user cache dir)")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statCmd)
}

var cacheDirFlag string
