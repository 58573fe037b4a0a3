package cmd

import (
	"fmt"
	"os"

	"radiotiker/config"
	"radiotiker/logger"
	"radiotiker/server"

	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "radiotiker",
	Short: "RadioTiker keeps per-user music catalogs and relays streams from home agents.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	// Without a subcommand the relay server starts.
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func runServer() {
	if err := server.Start(cfg); err != nil {
		logger.Fatal("server exited", logger.ErrorField(err))
	}
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
