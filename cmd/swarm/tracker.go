package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/tracker"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	trackerCfg         = config.DefaultTracker()
	trackerInteractive bool
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Start the tracker",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Sugar.Infof("Starting tracker on %s", trackerCfg.ListenAddr)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := tracker.New(trackerCfg)
		if !trackerInteractive {
			return server.Run(ctx)
		}

		if err := server.Start(ctx); err != nil {
			return err
		}
		fmt.Println("Swarm Tracker Interactive Shell")
		fmt.Println("Type 'help' for commands.")

		prompt.New(
			func(in string) { trackerExecutor(in, server) },
			trackerCompleter,
			prompt.OptionPrefix("tracker> "),
			prompt.OptionTitle("Swarm Tracker"),
		).Run()
		server.Stop()
		return nil
	},
}

func trackerExecutor(in string, server *tracker.Server) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping tracker...")
		server.Stop()
		logger.Sync()
		os.Exit(0)
	case "status":
		fmt.Println(server.Status())
	case "list":
		if len(blocks) > 1 && blocks[1] == "peers" {
			entries := server.ListPeers()
			if len(entries) == 0 {
				fmt.Println("No peers registered.")
				return
			}
			fmt.Println("Registered Peers:")
			for _, e := range entries {
				fmt.Printf("- %s: %v\n", e.Addr, e.Pieces)
			}
		} else {
			fmt.Println("Usage: list peers")
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status       - Show tracker status")
		fmt.Println("  list peers   - List registered peers and their pieces")
		fmt.Println("  exit         - Stop tracker and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func trackerCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show tracker status"},
		{Text: "list peers", Description: "List registered peers"},
		{Text: "exit", Description: "Exit the tracker"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(trackerCmd)
	trackerCmd.Flags().StringVarP(&trackerCfg.ListenAddr, "addr", "a", trackerCfg.ListenAddr, "Address to listen on")
	trackerCmd.Flags().BoolVar(&trackerCfg.Advertise, "mdns", false, "Advertise the tracker over mDNS")
	trackerCmd.Flags().DurationVar(&trackerCfg.IdleTimeout, "idle-timeout", trackerCfg.IdleTimeout, "Drop peers silent for longer (0 disables)")
	trackerCmd.Flags().BoolVarP(&trackerInteractive, "interactive", "i", false, "Start in interactive mode")
}
