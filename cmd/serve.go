package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amigotalk/meshcall/internal/config"
	"github.com/amigotalk/meshcall/internal/storeserver"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document-store gateway",
	Long: `Run the reference document-store gateway that call clients signal
through. Media never touches the gateway; it carries only the signaling,
roster and presence documents.

Examples:
  meshcall serve
  meshcall serve --listen :9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{ListenAddr: flagListen})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := storeserver.New(log)
		return srv.Run(ctx, cfg.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Bind address for the gateway")
}
