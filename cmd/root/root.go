// Package root wires the CLI commands around one engine instance.
package root

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/engine"
)

type rootFlags struct {
	configPath string
	debugMode  bool
}

// NewRootCmd builds the notabene command tree.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "notabene",
		Short: "notabene - conversational knowledge engine for a note vault",
		Long:  "notabene maintains durable chat sessions over a personal note vault, with hybrid retrieval and background summarization.",
		Example: `  notabene chat "what did I write about tomatoes?"
  notabene search "composting" --folder Garden
  notabene conversations
  notabene archive`,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if flags.debugMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "notabene.yaml", "path to the configuration file")
	cmd.PersistentFlags().BoolVar(&flags.debugMode, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newChatCmd(&flags),
		newSearchCmd(&flags),
		newConversationsCmd(&flags),
		newArchiveCmd(&flags),
	)
	return cmd
}

// openEngine loads configuration and constructs the engine for a command.
func openEngine(flags *rootFlags) (*engine.Engine, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}
