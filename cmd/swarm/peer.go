package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tarun-kavipurapu/p2p-swarm/peer"
	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/metainfo"
	"tarun-kavipurapu/p2p-swarm/pkg/storage"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	nodeCfg         = config.DefaultNode()
	shareFile       string
	descPath        string
	chunkSize       string
	uploadRate      string
	peerInteractive bool
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Join a swarm as a seeder or a leecher",
	Long: `Join a swarm. With --file the node owns the whole file and seeds it,
writing its description to --describe when given. Otherwise the node
downloads the file described by --describe (or, without one, whatever the
swarm advertises) and writes it to --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if uploadRate != "" {
			v, err := config.ParseSize(uploadRate)
			if err != nil {
				return err
			}
			nodeCfg.UploadRate = v
		}

		desc, pieces, err := loadSwarm()
		if err != nil {
			return err
		}

		var store storage.Store
		if nodeCfg.DataDir != "" {
			ds, err := storage.NewDiskStore(nodeCfg.DataDir)
			if err != nil {
				return err
			}
			store = ds
		}
		if nodeCfg.OutputPath == "" && shareFile == "" && desc != nil {
			nodeCfg.OutputPath = desc.FileName
		}

		node, err := peer.New(nodeCfg, desc, store)
		if err != nil {
			return err
		}
		if pieces != nil {
			if err := node.ShareFile(pieces); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !peerInteractive {
			return node.Run(ctx)
		}

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			if err := node.Run(ctx); err != nil {
				logger.Sugar.Fatalf("[Node] stopped: %v", err)
			}
		}()

		fmt.Println("Swarm Peer Interactive Shell")
		fmt.Println("Type 'help' for commands.")

		prompt.New(
			func(in string) { peerExecutor(in, node, stop, stopped) },
			peerCompleter,
			prompt.OptionPrefix("peer> "),
			prompt.OptionTitle("Swarm Peer"),
		).Run()
		stop()
		<-stopped
		return nil
	},
}

// loadSwarm returns the description to join with and, when sharing, the
// pieces of the local file.
func loadSwarm() (*metainfo.Description, []storage.Piece, error) {
	if shareFile == "" {
		if descPath == "" {
			if nodeCfg.TrackerAddr == "" && !nodeCfg.LookupTracker {
				return nil, nil, errors.New("need --describe, --tracker or --mdns to find the swarm")
			}
			return nil, nil, nil
		}
		desc, err := metainfo.Load(descPath)
		return desc, nil, err
	}

	size, err := config.ParseSize(chunkSize)
	if err != nil {
		return nil, nil, err
	}
	if size == 0 || size > config.MaxFrameSize {
		return nil, nil, fmt.Errorf("chunk size %s out of range", size.HR())
	}
	desc, pieces, err := metainfo.Create(shareFile, nodeCfg.TrackerAddr, int(size.Bytes()))
	if err != nil {
		return nil, nil, err
	}
	logger.Sugar.Infof("[Node] sharing %s: pieces=%d size=%d", filepath.Base(shareFile), len(pieces), desc.TotalSize)
	if descPath != "" {
		if err := desc.Save(descPath); err != nil {
			return nil, nil, err
		}
		logger.Sugar.Infof("[Node] description written to %s", descPath)
	}
	return desc, pieces, nil
}

func peerExecutor(in string, node *peer.Node, stop context.CancelFunc, stopped <-chan struct{}) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Leaving swarm...")
		stop()
		<-stopped
		logger.Sync()
		os.Exit(0)
	case "status":
		fmt.Print(node.Status())
	case "peers":
		entries := node.Peers()
		if len(entries) == 0 {
			fmt.Println("No other peers known.")
			return
		}
		for _, e := range entries {
			fmt.Printf("- %s: %d pieces (served us %d)\n", e.Addr, len(e.Pieces), node.Ledger().Count(e.Addr))
		}
	case "choke":
		state := node.ChokeState()
		fmt.Printf("Top peers: %v\n", state.TopPeers)
		fmt.Printf("Optimistic: %s\n", state.Optimistic)
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status  - Show node status")
		fmt.Println("  peers   - List peers in the directory")
		fmt.Println("  choke   - Show the current choke ranking")
		fmt.Println("  exit    - Leave the swarm and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func peerCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show node status"},
		{Text: "peers", Description: "List peers"},
		{Text: "choke", Description: "Show choke ranking"},
		{Text: "exit", Description: "Leave the swarm"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(peerCmd)
	f := peerCmd.Flags()
	f.StringVar(&nodeCfg.Host, "host", nodeCfg.Host, "Address other peers reach this node on")
	f.IntVarP(&nodeCfg.ListenPort, "port", "p", nodeCfg.ListenPort, "First port to try listening on")
	f.StringVarP(&nodeCfg.TrackerAddr, "tracker", "t", "", "Tracker address (overrides the description)")
	f.BoolVar(&nodeCfg.LookupTracker, "mdns", false, "Find the tracker over mDNS")
	f.StringVarP(&shareFile, "file", "f", "", "File to seed")
	f.StringVarP(&descPath, "describe", "d", "", "Swarm description (.json or .torrent)")
	f.StringVar(&chunkSize, "chunk-size", config.DefaultChunkSize.String(), "Piece size when seeding")
	f.StringVarP(&nodeCfg.OutputPath, "out", "o", "", "Where to write the downloaded file")
	f.StringVar(&nodeCfg.DataDir, "data-dir", "", "Keep pieces on disk in this directory")
	f.StringVar(&uploadRate, "upload-rate", "", "Upload limit per second, e.g. 1MB (default unlimited)")
	f.IntVar(&nodeCfg.MinPeers, "min-peers", nodeCfg.MinPeers, "Directory size to wait for before fetching")
	f.IntVar(&nodeCfg.TopPeers, "top-peers", nodeCfg.TopPeers, "Peers kept unchoked by the ranking")
	f.DurationVar(&nodeCfg.MetricsInterval, "metrics-interval", nodeCfg.MetricsInterval, "How often to log transfer metrics (0 disables)")
	f.BoolVar(&nodeCfg.ShowProgress, "progress", false, "Render a progress bar")
	f.BoolVarP(&peerInteractive, "interactive", "i", false, "Start in interactive mode")
}
