package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics/solomon"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/internal/logger"
	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/coordinator"
	"github.com/doublecloud/lakesink/pkg/sink"
	"github.com/doublecloud/lakesink/pkg/store"
	"github.com/doublecloud/lakesink/pkg/table"
)

type inputRecord struct {
	Kind string                 `json:"kind"`
	Row  map[string]interface{} `json:"row"`
}

func writeCommand() *cobra.Command {
	var warehouse string
	var mode string
	var spillPaths string
	var checkpointEvery int

	cmd := &cobra.Command{
		Use:     "write",
		Short:   "Stream jsonl records from stdin into a table",
		Example: `echo '{"kind":"insert","row":{"id":1}}' | ./lakesink write --warehouse /data/wh/orders`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.NewStoreLocal(&store.LocalConfig{TablePath: warehouse})
			tbl, err := table.Open(st, logger.Log)
			if err != nil {
				return xerrors.Errorf("unable to open table: %w", err)
			}
			cfg := &sink.SinkConfig{
				WriteMode:  sink.WriteMode(mode),
				SpillPaths: spillPaths,
			}
			writer, err := sink.New(cfg, tbl, tbl.Schema(), solomon.NewRegistry(solomon.NewRegistryOpts()), logger.Log)
			if err != nil {
				return xerrors.Errorf("unable to construct sink writer: %w", err)
			}
			defer func() {
				if err := writer.Close(); err != nil {
					logger.Log.Warn("unable to close sink writer", log.Error(err))
				}
			}()
			cp := coordinator.NewTableCoordinator(tbl, writer.CommitUser(), logger.Log)

			rowType := tbl.Schema()
			checkpointID := int64(0)
			sinceCheckpoint := 0
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var input inputRecord
				if err := json.Unmarshal(line, &input); err != nil {
					return xerrors.Errorf("unable to parse input line: %w", err)
				}
				rec := &abstract.Record{Kind: abstract.Kind(input.Kind)}
				if rec.Kind == "" {
					rec.Kind = abstract.InsertKind
				}
				for _, col := range rowType.Columns() {
					if v, ok := input.Row[col.ColumnName]; ok {
						rec.ColumnNames = append(rec.ColumnNames, col.ColumnName)
						rec.ColumnValues = append(rec.ColumnValues, v)
					}
				}
				if err := writer.Write(rec); err != nil {
					return err
				}
				sinceCheckpoint++
				if cfg.WriteMode == sink.StreamingMode && sinceCheckpoint >= checkpointEvery {
					checkpointID++
					if err := checkpoint(writer, cp, checkpointID); err != nil {
						return err
					}
					sinceCheckpoint = 0
				}
			}
			if err := scanner.Err(); err != nil {
				return xerrors.Errorf("unable to read stdin: %w", err)
			}

			if cfg.WriteMode == sink.BatchMode {
				messages, err := writer.PrepareCommit(table.TerminalCheckpointID)
				if err != nil {
					return err
				}
				writer.SnapshotState(table.TerminalCheckpointID)
				return cp.CommitTerminal(messages)
			}
			checkpointID++
			return checkpoint(writer, cp, checkpointID)
		},
	}
	cmd.Flags().StringVar(&warehouse, "warehouse", "", "table root directory")
	cmd.Flags().StringVar(&mode, "mode", string(sink.StreamingMode), "write mode: batch or streaming")
	cmd.Flags().StringVar(&spillPaths, "spill-paths", "", "comma or colon separated temp dirs for staging data files")
	cmd.Flags().IntVar(&checkpointEvery, "checkpoint-every", 10000, "records per checkpoint in streaming mode")
	_ = cmd.MarkFlagRequired("warehouse")
	return cmd
}

func checkpoint(writer *sink.Writer, cp coordinator.Coordinator, checkpointID int64) error {
	messages, err := writer.PrepareCommit(checkpointID)
	if err != nil {
		return err
	}
	// the state would go to the framework's checkpoint store; the cli has no
	// restarts, so it is dropped after the commit below succeeds
	writer.SnapshotState(checkpointID)
	if err := cp.CommitAtCheckpoint(checkpointID, messages); err != nil {
		return err
	}
	return nil
}
