package cmd

import (
	"log/slog"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/relay"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	flagListenAddr string
	flagSecret     string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay server",
	Long: `Run the websocket relay that forwards offers, answers and ICE candidates
between participants. With a JWT secret every client must present a token
issued by "warpcall token"; without one the relay trusts the ?id= parameter.

Examples:
  warpcall relay --listen :8080
  RELAY_JWT_SECRET=s3cret warpcall relay`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := relayConfig()
		if err != nil {
			return err
		}

		if slog.Default().Enabled(cmd.Context(), slog.LevelDebug) {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		if cfg.RelayJWTSecret == "" {
			ui.PrintWarning("No JWT secret set, any client may claim any participant id")
		}
		ui.PrintInfof("Relay listening on %s", cfg.RelayListenAddr)

		if err := relay.Serve(cmd.Context(), cfg.RelayListenAddr, cfg.RelayJWTSecret, slog.Default()); err != nil {
			return err
		}
		ui.PrintSuccess("Relay stopped")
		return nil
	},
}

func relayConfig() (*config.Config, error) {
	opts := configOptions()
	opts.ListenAddr = flagListenAddr
	opts.JWTSecret = flagSecret
	return LoadConfig(opts)
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagListenAddr, "listen", "l", "", "Address to listen on (default :8080)")
	relayCmd.Flags().StringVar(&flagSecret, "secret", "", "HS256 secret used to verify client tokens")
}
