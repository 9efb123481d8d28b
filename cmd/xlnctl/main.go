// Command xlnctl is the operator CLI for inspecting and replaying an xln
// node's persisted state: snapshot inspection, WAL replay, and a scripting
// entrypoint that drives a single tick. Grounded on cmd/synnergy's cobra
// root/subcommand layout, generalized from its mock testnet/tokens
// subcommands to the real snapshot/wal/tick operations spec §6.1 and §A.4
// name.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adimov-eth/xln-sub002/driver"
	"github.com/adimov-eth/xln-sub002/pkg/config"
	"github.com/adimov-eth/xln-sub002/persistence"
)

func main() {
	root := &cobra.Command{Use: "xlnctl"}
	root.AddCommand(snapshotCmd())
	root.AddCommand(walCmd())
	root.AddCommand(tickCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot"}
	cmd.AddCommand(snapshotInspectCmd())
	return cmd
}

func snapshotInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [path]",
		Short: "decode a snapshot file, verify its state root, and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			height, timestamp, root, entries, err := persistence.DecodeSnapshotBody(raw)
			if err != nil {
				return err
			}
			recomputed := persistence.StateRoot(entries)
			fmt.Printf("height: %d\n", height)
			fmt.Printf("timestamp: %d\n", timestamp)
			fmt.Printf("stored_state_root: %s\n", hex.EncodeToString(root.Bytes()))
			fmt.Printf("recomputed_state_root: %s\n", hex.EncodeToString(recomputed.Bytes()))
			fmt.Printf("match: %v\n", recomputed == root)
			fmt.Printf("replicas: %d\n", len(entries))
			for _, e := range entries {
				fmt.Printf("  entity=%s signer=%s height=%d\n", e.EntityID.String(), e.SignerID.String(), e.Height)
			}
			return nil
		},
	}
}

func walCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wal"}
	cmd.AddCommand(walReplayCmd())
	return cmd
}

func walReplayCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "replay [wal-path]",
		Short: "mount an optional snapshot then replay a WAL's tick_input records, printing the resulting height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			d, err := driver.Open(cfg, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			keys := driver.NewLocalKeyMaterial()
			if err := d.Replay(snapshotPath, args[0], keys); err != nil {
				return err
			}
			fmt.Printf("replayed to height %d (runtime_id=%s)\n", d.Env.Height, d.Env.RuntimeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot file to mount before replaying the WAL")
	return cmd
}

func tickCmd() *cobra.Command {
	var walPath, snapshotDir, boltIndexPath string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "apply a single empty tick against a fresh Env and report the resulting height (debugging/scripting aid)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Persistence.WALPath = walPath
			cfg.Persistence.SnapshotDir = snapshotDir
			cfg.Persistence.BoltIndexPath = boltIndexPath
			if cfg.Persistence.WALPath == "" {
				cfg.Persistence.WALPath = "xln.wal"
			}
			if cfg.Persistence.SnapshotDir == "" {
				cfg.Persistence.SnapshotDir = "snapshots"
			}
			if err := os.MkdirAll(cfg.Persistence.SnapshotDir, 0o755); err != nil {
				return err
			}

			d, err := driver.Open(cfg, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			keys := driver.NewLocalKeyMaterial()
			if _, err := d.ApplyTick(nil, keys, uint64(time.Now().Unix())); err != nil {
				return err
			}
			fmt.Printf("tick applied, height now %d\n", d.Env.Height)
			return nil
		},
	}
	cmd.Flags().StringVar(&walPath, "wal", "", "WAL path (default xln.wal)")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "snapshot directory (default snapshots)")
	cmd.Flags().StringVar(&boltIndexPath, "bolt-index", "", "optional bbolt snapshot index path")
	return cmd
}
