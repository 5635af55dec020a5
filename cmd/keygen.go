package cmd

import (
	"fmt"

	"github.com/cryptotrader/trading-service/internal/util"
	"github.com/cryptotrader/trading-service/internal/vault"
	"github.com/spf13/cobra"
)

// keygenCmd prints a fresh encryption key for the credential vault.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate a new credential encryption key",
	Long:  `generate a new credential encryption key`,
	// Key generation must work before any config file exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		key, err := vault.GenerateKey()
		util.ContinueOrFatal(err)
		fmt.Println(key)
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
