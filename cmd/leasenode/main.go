package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	contractID string
	ownerID    string
	dbURL      string
	listenAddr string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "leasenode",
		Short: "An asset lease escrow node",
		Long: `Leasenode runs the go-assetlease lease escrow contract together with
in-process custody and payment simulators, so the full lease lifecycle
(approve, pay, activate, claim back) can be exercised end to end.`,
	}

	rootCmd.PersistentFlags().StringVar(&contractID, "account-id", "rental.node", "Account identity of the lease contract")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner-id", "admin.node", "Account identity of the contract admin")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection URL (empty runs without persistence)")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the lease contract behind an HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")

	var demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Run an interactive lease lifecycle demo",
		RunE:  runDemo,
	}

	rootCmd.AddCommand(serveCmd, demoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
