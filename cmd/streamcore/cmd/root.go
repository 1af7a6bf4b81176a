package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/javi11/usenetstream/internal/config"
	"github.com/javi11/usenetstream/internal/slogutil"
)

var configFile string

// logger is shared by every subcommand, built from the config file's
// Log section the same way the teacher's daemon configures logging
// (console output, optional rotating file via lumberjack, credential
// redaction). When the config file cannot be loaded it stays
// slog.Default(). `providers test`, driven entirely by flags, does not
// use it: the connection pool it builds logs to a discarding handler.
var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "streamcore",
	Short: "Usenet streaming data plane: read-only virtual file access backed by NNTP",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil // commands needing a real config surface their own LoadConfig error
		}
		logger = slogutil.SetupLogRotation(cfg.Log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config.yaml", "config file (default is ./config.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
