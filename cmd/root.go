package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/internal/tools"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvalidConfig indicates config.yaml failed validation.
	ExitCodeInvalidConfig = 2
	// ExitCodeInvalidCatalog indicates the tool catalog failed validation.
	ExitCodeInvalidCatalog = 3
)

// rootCmd represents the base command for the mcpgate application.
var rootCmd = &cobra.Command{
	Use:   "mcpgate",
	Short: "MCP gateway with an OAuth 2.1 authorization broker",
	Long: `mcpgate exposes a catalog of tools to AI agents over the MCP SSE transport.

Agents authenticate against the gateway's own OAuth 2.1 authorization server,
which delegates the interactive login to an upstream identity provider and
issues gateway tokens bound to the agent's PKCE challenge.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpgate version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var configErrs config.ValidationErrors
	if errors.As(err, &configErrs) {
		return ExitCodeInvalidConfig
	}

	var configErr config.ValidationError
	if errors.As(err, &configErr) {
		return ExitCodeInvalidConfig
	}

	var catalogErr *tools.CatalogError
	if errors.As(err, &catalogErr) {
		return ExitCodeInvalidCatalog
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
