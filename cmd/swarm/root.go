package main

import (
	"os"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Tracker-assisted P2P file swarm",
	Long:  `Share a file as hash-verified pieces: a tracker keeps the peer directory, peers trade pieces rarest-first.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" && logFile == "" {
			return nil
		}
		return logger.Setup(logLevel, logFile)
	},
	SilenceUsage: true,
}

func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		logger.Sync()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
}
