// Package main is the entry point for the VPS manager server.
// It wires the Docker client, database, background workers and HTTP server.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "vpsmanager",
		Short: "Single-host Docker dashboard backend",
		Long: `vpsmanager serves the dashboard API for one Docker host: container
lifecycle, compose projects, disk usage, live events and an admin terminal.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (env VPSM_* overrides)")

	rootCmd.AddCommand(serveCmd, migrateCmd, userCmd, tokenCmd)
	userCmd.AddCommand(userAddCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
