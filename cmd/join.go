package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/amigotalk/meshcall/internal/call"
	"github.com/amigotalk/meshcall/internal/config"
	"github.com/amigotalk/meshcall/internal/media"
	"github.com/amigotalk/meshcall/internal/store/remote"
	"github.com/amigotalk/meshcall/internal/ui"
)

var (
	flagDomain     string
	flagSTUN       string
	flagName       string
	flagMicFile    string
	flagScreenFile string
)

var joinCmd = &cobra.Command{
	Use:     "join [call-id]",
	Aliases: []string{"j"},
	Short:   "Join a call, or start a new one",
	Long: `Join an existing call by id, or start a new call when no id is given.

Examples:
  meshcall join
  meshcall join 7c9e6679-7425-40de-944b-e07fc1f90ae7
  meshcall join --name Alice --mic voice.ogg 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		callID := ""
		if len(args) == 1 {
			callID = args[0]
		}
		return joinCall(callID)
	},
}

func joinCall(callID string) error {
	cfg, err := config.Load(config.Options{
		Domain:      flagDomain,
		STUNServers: flagSTUN,
		DisplayName: flagName,
		MicFile:     flagMicFile,
		ScreenFile:  flagScreenFile,
	})
	if err != nil {
		return err
	}

	sp := ui.NewConnectionSpinner("Connecting to gateway...")
	sp.Start()
	db, err := remote.Dial(cfg.StoreURL)
	if err != nil {
		sp.Error("Could not reach the gateway")
		return err
	}
	sp.Success("Connected to " + cfg.Domain)
	defer db.Close()

	self := call.Participant{ID: uuid.NewString(), Name: cfg.DisplayName}

	ctx := context.Background()
	if callID == "" {
		create := ui.NewSimpleSpinner("Creating call...")
		create.Start()
		callID, err = call.CreateRoom(ctx, db, self)
		if err != nil {
			create.Error("Could not create the call")
			return err
		}
		create.Stop()
		ui.RenderCallInfo(ui.CallInfo{CallID: callID, CallLink: cfg.GetCallLink(callID)})
	}

	session := call.NewSession(call.Options{
		Store:       db,
		CallID:      callID,
		Self:        self,
		Capture:     newCapture(cfg),
		STUNServers: cfg.STUNServers,
		Log:         log,
	})

	if err := session.Join(ctx); err != nil {
		return err
	}

	view := ui.NewCallView(session, callID)
	if _, err := tea.NewProgram(view).Run(); err != nil {
		return fmt.Errorf("call view failed: %w", err)
	}

	if msg := view.Err(); msg != "" {
		ui.PrintWarning(msg)
	} else {
		ui.PrintSuccess("Call ended")
	}

	fmt.Println()
	ui.RenderCallSummary(view.Summary())
	return nil
}

// newCapture picks the media source: configured files when given, silent
// capture-cadence tracks otherwise so the wire still carries audio.
func newCapture(cfg *config.Config) media.Capture {
	if cfg.MicFile != "" || cfg.ScreenFile != "" {
		return &media.FileCapture{
			MicPath:    cfg.MicFile,
			ScreenPath: cfg.ScreenFile,
			Log:        log,
		}
	}
	return &media.SilentCapture{}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom gateway domain")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Comma-separated STUN server URLs")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to other participants")
	joinCmd.Flags().StringVar(&flagMicFile, "mic", "", "Ogg/Opus file used as the microphone source")
	joinCmd.Flags().StringVar(&flagScreenFile, "screen", "", "IVF/VP8 file used as the screen-share source")
}
