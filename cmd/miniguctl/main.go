// Command miniguctl is an operator CLI for a MiniGU storage engine
// instance: inspecting its WAL and checkpoints, and triggering a
// checkpoint or GC pass out of band.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/minigu-project/storage/pkg/audit"
	"github.com/minigu-project/storage/pkg/config"
	"github.com/minigu-project/storage/pkg/storage"
)

// discardLog silences the engine's structured logger for CLI invocations;
// miniguctl reports errors and results on stdout/stderr itself.
func discardLog() logr.Logger { return logr.Discard() }

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "miniguctl",
		Short: "Operator CLI for a MiniGU storage engine instance",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to MINIGU_* environment variables)")

	loadConfig := func() (*config.Config, error) {
		if configPath == "" {
			return config.LoadFromEnv(), nil
		}
		return config.LoadFromFile(configPath)
	}

	rootCmd.AddCommand(newStatsCmd(loadConfig))
	rootCmd.AddCommand(newCheckpointCmd(loadConfig))
	rootCmd.AddCommand(newGCCmd(loadConfig))
	rootCmd.AddCommand(newInspectCmd(loadConfig))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openHandle(loadConfig func() (*config.Config, error)) (*storage.GraphHandle, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return storage.Open(cfg, discardLog())
}

func newStatsCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report engine stats: active transactions, watermark, entity counts, WAL/checkpoint status",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHandle(loadConfig)
			if err != nil {
				return err
			}
			defer h.Close()

			s := h.Stats()
			fmt.Printf("active transactions: %d\n", s.ActiveTransactions)
			fmt.Printf("watermark:           %d\n", s.Watermark)
			fmt.Printf("vertices:            %d\n", s.VertexCount)
			fmt.Printf("edges:               %d\n", s.EdgeCount)
			if s.WALSizeHuman != "" {
				fmt.Printf("wal size:            %s\n", s.WALSizeHuman)
			}
			if s.LastCheckpoint != "" {
				fmt.Printf("last checkpoint:     %s\n", s.LastCheckpoint)
			}
			return nil
		},
	}
}

func newCheckpointCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Trigger an immediate checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHandle(loadConfig)
			if err != nil {
				return err
			}
			defer h.Close()

			path, err := h.CreateCheckpoint(context.Background())
			if err != nil {
				return fmt.Errorf("creating checkpoint: %w", err)
			}
			fmt.Printf("wrote checkpoint %s\n", path)
			return nil
		},
	}
}

func newGCCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Trigger an immediate garbage collection pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHandle(loadConfig)
			if err != nil {
				return err
			}
			defer h.Close()

			h.GarbageCollect()
			fmt.Println("garbage collection pass complete")
			return nil
		},
	}
}

func newInspectCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect on-disk engine state without mutating it",
	}
	inspectCmd.AddCommand(newInspectWALCmd(loadConfig))
	inspectCmd.AddCommand(newInspectCheckpointCmd(loadConfig))
	inspectCmd.AddCommand(newInspectAuditCmd())
	return inspectCmd
}

func newInspectWALCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "wal",
		Short: "Dump every record in the write-ahead log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.WALPath == "" {
				return fmt.Errorf("no wal_path configured")
			}
			w, err := storage.OpenWAL(cfg.WALPath, discardLog())
			if err != nil {
				return fmt.Errorf("opening wal: %w", err)
			}
			defer w.Close()

			records, err := w.ReadAll()
			if err != nil {
				return fmt.Errorf("reading wal: %w", err)
			}
			for _, r := range records {
				fmt.Printf("lsn=%d txn=%d op=%v start_ts=%d commit_ts=%d\n", r.LSN, r.TxnID, r.Op, r.StartTS, r.CommitTS)
			}
			fmt.Printf("%d records\n", len(records))
			return nil
		},
	}
}

func newInspectCheckpointCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint [path]",
		Short: "Show a checkpoint file's header and entity counts; defaults to the newest one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				h, err := storage.Open(&config.Config{
					CheckpointDir:        cfg.CheckpointDir,
					CheckpointFilePrefix: cfg.CheckpointFilePrefix,
					MaxCheckpoints:       cfg.MaxCheckpoints,
					GCTriggerThreshold:   cfg.GCTriggerThreshold,
					IteratorBatchSize:    cfg.IteratorBatchSize,
				}, discardLog())
				if err != nil {
					return fmt.Errorf("opening engine: %w", err)
				}
				path = h.Stats().LastCheckpoint
				_ = h.Close()
				if path == "" {
					return fmt.Errorf("no checkpoints found under %s", cfg.CheckpointDir)
				}
			}

			header, body, err := storage.LoadCheckpoint(path)
			if err != nil {
				return fmt.Errorf("loading checkpoint: %w", err)
			}
			fmt.Printf("path:                %s\n", path)
			fmt.Printf("creation_ts:         %d\n", header.CreationTS)
			fmt.Printf("latest_commit_ts:    %d\n", header.LatestCommitTSAtSnap)
			fmt.Printf("next_vertex_id:      %d\n", header.NextVertexID)
			fmt.Printf("next_edge_id:        %d\n", header.NextEdgeID)
			fmt.Printf("next_lsn_at_snap:    %d\n", header.NextLSNAtSnapshot)
			fmt.Printf("vertices:            %d\n", len(body.Vertices))
			fmt.Printf("edges:               %d\n", len(body.Edges))
			return nil
		},
	}
}

func newInspectAuditCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Dump the transaction-lifecycle audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return fmt.Errorf("--log-path is required")
			}
			reader := audit.NewReader(path)
			events, err := reader.Events(audit.Query{})
			if err != nil {
				return fmt.Errorf("reading audit log: %w", err)
			}
			for _, e := range events {
				fmt.Printf("%s %-20s txn=%d success=%t %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Type, e.TxnID, e.Success, e.Reason)
			}
			fmt.Printf("%d events\n", len(events))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "log-path", "", "path to the audit log file")
	return cmd
}
