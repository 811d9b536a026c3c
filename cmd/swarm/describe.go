package main

import (
	"fmt"
	"path/filepath"

	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/metainfo"

	"github.com/spf13/cobra"
)

var (
	describeTracker string
	describeChunk   string
	describeOut     string
)

var describeCmd = &cobra.Command{
	Use:   "describe <file>",
	Short: "Write the swarm description of a file",
	Long:  `Split a file into pieces and write its description (piece digests, sizes and tracker). A .torrent output is bencoded, anything else is JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := config.ParseSize(describeChunk)
		if err != nil {
			return err
		}
		if size == 0 || size > config.MaxFrameSize {
			return fmt.Errorf("chunk size %s out of range", size.HR())
		}

		desc, _, err := metainfo.Create(args[0], describeTracker, int(size.Bytes()))
		if err != nil {
			return err
		}
		out := describeOut
		if out == "" {
			out = filepath.Base(args[0]) + ".json"
		}
		if err := desc.Save(out); err != nil {
			return err
		}
		fmt.Printf("Described %s: %d pieces of %s, %d bytes -> %s\n",
			desc.FileName, desc.TotalPieces(), size.HR(), desc.TotalSize, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().StringVarP(&describeTracker, "tracker", "t", "", "Tracker address recorded in the description")
	describeCmd.Flags().StringVar(&describeChunk, "chunk-size", config.DefaultChunkSize.String(), "Piece size")
	describeCmd.Flags().StringVarP(&describeOut, "out", "o", "", "Output path (default <file>.json)")
}
