package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bothive",
	Short: "Multi-bot Telegram webhook hub",
	Long:  "BotHive runs several Telegram bots behind one webhook endpoint, routing each update to the owning bot's worker.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
