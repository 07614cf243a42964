package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "zapmcp",
	Short: "ZAP + LLM security scan orchestrator",
	Long: `zapmcp runs an OWASP ZAP scan and an LLM code analysis of the same target
side by side, merges their findings, and streams progress to REST, SSE,
WebSocket and MCP clients.

Get started:
  zapmcp init       Interactive setup wizard
  zapmcp doctor     Verify ZAP, the analysis provider and the database
  zapmcp scan       Run one scan and print the findings
  zapmcp serve      Start the gateway daemon with REST API, events and MCP
  zapmcp mcp        Serve MCP over stdio for IDE integrations
  zapmcp watch      Live terminal view of a running gateway`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.zapmcp/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		initCmd,
		doctorCmd,
		scanCmd,
		serveCmd,
		mcpCmd,
		watchCmd,
		configCmd,
	)
}

func initConfig() {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
