package cmd

import (
	"github.com/cryptotrader/trading-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "start the trading api server",
	Long:  `start the trading api server`,
	Run:   bootstrap.StartServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
