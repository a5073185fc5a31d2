package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessionguard",
	Short: "SessionGuard is a local session and authentication agent",
	Long: `SessionGuard manages encrypted session state for a local application:
authentication ceremonies, device-bound session tokens, background expiry
monitoring, and encrypted persistence across restarts.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
