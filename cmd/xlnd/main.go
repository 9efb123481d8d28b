// Command xlnd is the long-running node daemon: it owns one Driver
// (Env + WAL + snapshot index) and ticks it on a configured cadence with an
// empty input batch; no TransportAdapter is drained into the ticks. Grounded on the teacher's cmd/synnergy entrypoint shape
// and core/consensus.go's SynnergyConsensus.Start ticker-driven service
// loop (subBlockLoop/blockLoop), generalized here into a single cadence
// around runtime.ApplyTick instead of a PoS/PoW pair.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adimov-eth/xln-sub002/driver"
	"github.com/adimov-eth/xln-sub002/pkg/config"
)

func main() {
	var envName string
	var walPath, snapshotDir, boltIndexPath string
	var tickMillis int

	root := &cobra.Command{
		Use:   "xlnd",
		Short: "xln node daemon: ticks one Env and persists it to a WAL and snapshot directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(envName, walPath, snapshotDir, boltIndexPath, tickMillis)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			return run(cmd.Context(), cfg, logger)
		},
	}

	root.Flags().StringVar(&envName, "env", "", "named config overlay merged on top of cmd/config/default.yaml")
	root.Flags().StringVar(&walPath, "wal", "", "override persistence.wal_path")
	root.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "override persistence.snapshot_dir")
	root.Flags().StringVar(&boltIndexPath, "bolt-index", "", "override persistence.bolt_index_path")
	root.Flags().IntVar(&tickMillis, "tick-millis", 0, "override runtime.tick_millis")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(envName, walPath, snapshotDir, boltIndexPath string, tickMillis int) (config.Config, error) {
	cfg := config.Default()
	if loaded, err := config.Load(envName); err == nil {
		cfg = *loaded
	}
	if walPath != "" {
		cfg.Persistence.WALPath = walPath
	}
	if snapshotDir != "" {
		cfg.Persistence.SnapshotDir = snapshotDir
	}
	if boltIndexPath != "" {
		cfg.Persistence.BoltIndexPath = boltIndexPath
	}
	if tickMillis > 0 {
		cfg.Runtime.TickMillis = tickMillis
	}
	if cfg.Persistence.WALPath == "" {
		cfg.Persistence.WALPath = "xln.wal"
	}
	if cfg.Persistence.SnapshotDir == "" {
		cfg.Persistence.SnapshotDir = "snapshots"
	}
	if cfg.Runtime.TickMillis <= 0 {
		cfg.Runtime.TickMillis = 100
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logger.SetOutput(f)
		}
	}
	return logger
}

// run starts the tick loop: every cfg.Runtime.TickMillis it applies a tick
// with whatever inputs are pending (none, for this standalone daemon,
// until a TransportAdapter is wired in) and exits cleanly on ctx.Done,
// mirroring the teacher's ticker-select shape in subBlockLoop/blockLoop.
func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if err := os.MkdirAll(cfg.Persistence.SnapshotDir, 0o755); err != nil {
		return err
	}

	d, err := driver.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	keys := driver.NewLocalKeyMaterial()

	logger.WithFields(logrus.Fields{
		"runtime_id":   d.Env.RuntimeID,
		"wal":          cfg.Persistence.WALPath,
		"snapshot_dir": cfg.Persistence.SnapshotDir,
		"tick_millis":  cfg.Runtime.TickMillis,
	}).Info("xlnd starting")

	ticker := time.NewTicker(time.Duration(cfg.Runtime.TickMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("xlnd shutting down")
			if err := d.SaveSnapshot(uint64(time.Now().Unix())); err != nil {
				logger.WithError(err).Error("final snapshot on shutdown")
			}
			return nil
		case now := <-ticker.C:
			if _, err := d.ApplyTick(nil, keys, uint64(now.Unix())); err != nil {
				logger.WithError(err).Error("apply tick")
			}
		}
	}
}
