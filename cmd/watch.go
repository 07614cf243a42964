package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/tui"
)

var watchURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal view of a running gateway's scans",
	Long: `Connects to the gateway's /events stream and shows every scan with its
state, progress and finding count as events arrive.

Keys: tab switches views, c clears finished scans, q quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := watchURL
		if base == "" {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			base = "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		}
		return tui.NewApp(base).Run(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "gateway base URL (default from server.host/server.port)")
}
