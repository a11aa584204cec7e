// Package cli wires configuration, storage, ledger and connector clients into
// the running daemon.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	confFile string
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:   "settlementd",
	Short: "Interledger settlement engine backed by a Hyperledger Iroha ledger",
	Long: `settlementd bridges a local Interledger connector and a Hyperledger Iroha
ledger: it performs outgoing settlements as Iroha asset transfers, observes the
ledger for incoming settlements from peers, and exchanges ledger identities
with peer engines through the connector's message channel.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
