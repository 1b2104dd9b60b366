package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "address-cli",
	Short: "Fixed-width address formatter with rooftop geocode verification",
	Long:  "Slices fixed-width address lines into fields, joins them into readable addresses, optionally keeps only rooftop-precision Google geocode matches, and stores or serves the results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
