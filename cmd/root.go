package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/amigotalk/meshcall/internal/logging"
	"github.com/amigotalk/meshcall/internal/ui"
	"github.com/amigotalk/meshcall/internal/version"
)

// log is the root logger shared by the commands. Level comes from LOG_LEVEL.
var log = logging.New(os.Stderr)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "meshcall",
	Short:   "Peer-to-peer group voice and video calls over WebRTC",
	Long:    `Meshcall is a command-line client for full-mesh group calls using WebRTC technology. Every participant connects directly to every other participant; a document-store gateway carries only signaling and presence, never media. It includes a reference gateway so the whole system runs end to end.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Interrupt handling is per command: the call view treats ctrl-c as "leave",
// serve shuts down gracefully.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
