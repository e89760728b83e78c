// Aura is a hybrid voice-command interpretation daemon: it turns transcribed
// utterances into structured commands, resolving synonyms, slots, chained
// commands and references to earlier commands, with a language model as
// fallback.
//
// Usage:
//
//	aura serve [--config /path/to/aura.yaml]
//	aura interpret "create folder reports and then open it"
//	aura intents
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nadzzz/aura/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "aura",
	Short: "aura - hybrid voice-command interpreter",
	Long: `aura interprets free-form transcribed commands into structured actions.

Each transcript is split into chained commands, normalized, matched against
the intent table with conversational context, and handed to a local language
model only when the deterministic rules find nothing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		config.SetupLogging(cfg.Logging)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aura %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (e.g. configs/aura.yaml)")
	rootCmd.AddCommand(serveCmd, interpretCmd, intentsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("aura failed", "error", err)
		os.Exit(1)
	}
}
