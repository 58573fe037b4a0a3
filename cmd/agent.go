package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"radiotiker/core/agent"
	"radiotiker/logger"

	"github.com/spf13/cobra"
)

var (
	agentUser   string
	agentServer string
	agentLib    string
	agentPort   int
	agentWatch  bool
	agentOnce   bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the home agent",
	Long: `Scan a local music folder, push the catalog to the relay server, announce the
agent's address and serve the files to the relay.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("user") {
			cfg.AgentUserID = agentUser
		}
		if cmd.Flags().Changed("server") {
			cfg.AgentServerURL = agentServer
		}
		if cmd.Flags().Changed("library") {
			cfg.AgentLibraryPath = agentLib
		}
		if cmd.Flags().Changed("port") {
			cfg.AgentPort = agentPort
		}
		if cmd.Flags().Changed("watch") {
			cfg.AgentWatch = agentWatch
		}

		a, err := agent.New(agent.OptionsFromConfig(cfg))
		if err != nil {
			logger.Fatal("invalid agent configuration", logger.ErrorField(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if agentOnce {
			resp, err := a.SyncOnce(ctx)
			if err != nil {
				logger.Fatal("sync failed", logger.ErrorField(err))
			}
			logger.Info("sync complete", logger.Int("count", resp.Count), logger.Int64("version", resp.Version))
			return
		}
		if err := a.Run(ctx); err != nil {
			logger.Fatal("agent exited", logger.ErrorField(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().StringVarP(&agentUser, "user", "u", "", "user id to publish the library under")
	agentCmd.Flags().StringVarP(&agentServer, "server", "s", "", "relay server base URL")
	agentCmd.Flags().StringVarP(&agentLib, "library", "l", "", "music folder to scan and serve")
	agentCmd.Flags().IntVarP(&agentPort, "port", "p", 0, "port for the local file server")
	agentCmd.Flags().BoolVarP(&agentWatch, "watch", "w", false, "rescan when the library changes")
	agentCmd.Flags().BoolVar(&agentOnce, "once", false, "sync the catalog once and exit")

	agentCmd.Example = `  # Serve ~/Music as alice
  radiotiker agent -u alice -l ~/Music -s https://relay.example.com

  # Push the catalog without starting the file server
  radiotiker agent -u alice -l ~/Music --once`
}
