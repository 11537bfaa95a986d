package cmd

import (
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/history"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagLimit  int
	flagMissed bool
	flagClear  bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"log"},
	Short:   "Show recent calls",
	Long: `List calls placed and received on this machine, newest first.

Examples:
  warpcall history
  warpcall history --missed
  warpcall history --clear`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOptions())
		if err != nil {
			return err
		}

		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if flagClear {
			if err := store.Clear(); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			ui.PrintSuccess("Call history cleared")
			return nil
		}

		records, err := store.List(flagLimit, flagMissed)
		if err != nil {
			return err
		}
		ui.RenderHistory(cmd.OutOrStdout(), records)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum number of calls to show (0 for all)")
	historyCmd.Flags().BoolVarP(&flagMissed, "missed", "m", false, "Only show missed calls")
	historyCmd.Flags().BoolVar(&flagClear, "clear", false, "Delete all call history")
}
