package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/agentdeck/agentdeck/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                       _      _           _\n" +
		"   __ _  __ _  ___ _ _| |_ __| | ___  ___| | __\n" +
		"  / _` |/ _` |/ _ \\ '_ \\  _/ _` |/ _ \\/ __| |/ /\n" +
		" | (_| | (_| |  __/ | | | || (_| |  __/ (__|   <\n" +
		"  \\__,_|\\__, |\\___|_| |_|\\__\\__,_|\\___|\\___|_|\\_\\\n" +
		"        |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "agentdeck - console for an autonomous-agent backend",
	Long:  color.CyanString(logo) + "\nA terminal console for chatting with an autonomous-agent backend:\ndurable conversation timeline, live event stream and approval gate.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(approvalsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentdeck version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("agentdeck " + version)
	},
}
