package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 normal shutdown, 1 startup failure, 130 on SIGINT.
const (
	exitSuccess       = 0
	exitStartupFailed = 1
	exitInterrupted   = 130
)

var rootCmd = &cobra.Command{
	Use:   "hatago",
	Short: "An MCP hub that aggregates multiple upstream MCP servers behind one endpoint",
	Long: `hatago-hub connects to a set of upstream MCP servers (stdio, streamable-HTTP,
or SSE), merges their tools, resources, and prompts under one collision-free
naming scheme, and serves the aggregate to downstream MCP clients over HTTP
or stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// execute runs the root command and exits the process with the code the
// failing subcommand reported.
func execute() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitSuccess)
	}

	var interrupted *interruptedError
	if errors.As(err, &interrupted) {
		os.Exit(exitInterrupted)
	}

	rootCmd.PrintErrln(err)
	os.Exit(exitStartupFailed)
}

// interruptedError marks a subcommand exit caused by SIGINT or SIGTERM, so
// execute can map it to exit code 130 instead of the generic failure code.
type interruptedError struct{ cause error }

func (e *interruptedError) Error() string { return e.cause.Error() }
func (e *interruptedError) Unwrap() error { return e.cause }
