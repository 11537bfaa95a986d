package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var flagVideo bool

var callCmd = &cobra.Command{
	Use:     "call <participant-id>",
	Aliases: []string{"c"},
	Short:   "Call another participant",
	Long: `Place an audio or video call to another participant connected to the same relay.

Examples:
  warpcall call sleepy-otter-comet
  warpcall call --video sleepy-otter-comet
  warpcall call --relay --id alice bob`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return placeCall(cmd.Context(), args[0])
	},
}

func placeCall(ctx context.Context, peer string) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}

	kind := call.KindAudio
	if flagVideo {
		kind = call.KindVideo
	}

	fmt.Println()
	cc, err := NewCallContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer cc.Close()

	dialErr := make(chan error, 1)
	view := ui.NewCallView(ctx, cc.Calls, ui.CallViewOptions{
		LocalID:     cfg.ParticipantID,
		RingTimeout: cfg.RingTimeout,
		Dial: func(ctx context.Context) error {
			_, err := cc.Calls.StartCall(ctx, peer, kind)
			dialErr <- err
			return err
		},
	})

	ended, err := view.Run()
	if err != nil {
		return err
	}
	if ended == nil {
		select {
		case err := <-dialErr:
			return err
		default:
			return nil
		}
	}

	fmt.Println()
	ui.RenderCallSummary(*ended)
	if ended.State == call.StateFailed {
		if ended.Err != nil {
			return errors.New(call.UserMessage(ended.Err))
		}
		return errors.New("call failed")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().BoolVarP(&flagVideo, "video", "v", false, "Start a video call")
}
