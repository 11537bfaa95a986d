package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/BioHazard786/Warpcall/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagDomain      string
	flagSignalURL   string
	flagID          string
	flagToken       string
	flagSTUN        string
	flagTURN        string
	flagTURNUser    string
	flagTURNPass    string
	flagRelay       bool
	flagRingTimeout time.Duration
	flagHistory     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warpcall",
	Short: "Peer-to-peer audio and video calls over WebRTC from the terminal",
	Long: `Warpcall places one-to-one audio and video calls directly between devices using WebRTC.
A small relay server only forwards the offer, answer and ICE candidates; media flows peer to peer,
falling back to TURN when a direct path cannot be found.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func configOptions() config.Options {
	return config.Options{
		Domain:        flagDomain,
		SignalURL:     flagSignalURL,
		ParticipantID: flagID,
		Token:         flagToken,
		STUNServer:    flagSTUN,
		TURNServer:    flagTURN,
		TURNUser:      flagTURNUser,
		TURNPass:      flagTURNPass,
		ForceRelay:    flagRelay,
		RingTimeout:   flagRingTimeout,
		HistoryPath:   flagHistory,
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&flagDomain, "domain", "d", "", "Relay server domain")
	f.StringVar(&flagSignalURL, "signal-url", "", "Full websocket url of the relay (overrides --domain)")
	f.StringVarP(&flagID, "id", "i", "", "Your participant id (random when empty)")
	f.StringVar(&flagToken, "token", "", "Relay access token")
	f.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	f.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	f.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	f.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	f.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	f.DurationVar(&flagRingTimeout, "ring-timeout", 0, "How long a call may ring before it is missed")
	f.StringVar(&flagHistory, "history", "", "Call history database path")
}
