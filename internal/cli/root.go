// Package cli provides the relay binary's entry point: a thin cobra
// wrapper around starting the server process and reporting its status.
// The full client surface (pipeline/run/task-run inspection commands) is
// out of scope; this covers only what is needed to operate the server.
package cli

import (
	"github.com/spf13/cobra"
)

var appVersion = "0.0.dev"

var RootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay is a distributed job and pipeline orchestrator.",
	Long: `Relay is a distributed job and pipeline orchestrator.

It schedules dependency-ordered task graphs as containers through a
pluggable scheduler backend.`,
	Version: appVersion,
}

func init() {
	RootCmd.AddCommand(cmdService)

	RootCmd.PersistentFlags().String("config", "", "configuration file path")
}

func Execute() error {
	return RootCmd.Execute()
}
