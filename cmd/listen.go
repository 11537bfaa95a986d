package cmd

import (
	"context"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Wait for incoming calls",
	Long: `Connect to the relay and wait for other participants to call you.
Share the printed id with the caller.

Examples:
  warpcall listen
  warpcall listen --id alice --ring-timeout 45s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listen(cmd.Context())
	},
}

func listen(ctx context.Context) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}

	fmt.Println()
	cc, err := NewCallContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer cc.Close()

	ui.RenderParticipantInfo(cfg.ParticipantID, cfg.SignalURL)

	last, err := ui.NewCallView(ctx, cc.Calls, ui.CallViewOptions{
		LocalID:     cfg.ParticipantID,
		RingTimeout: cfg.RingTimeout,
		Listen:      true,
	}).Run()
	if err != nil {
		return err
	}
	if last != nil {
		fmt.Println()
		ui.RenderCallSummary(*last)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
