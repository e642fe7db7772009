package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/internal/logger"
	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/store"
	"github.com/doublecloud/lakesink/pkg/table"
)

type tableSpec struct {
	Columns []abstract.ColSchema `json:"columns"`
	Options table.Options        `json:"options"`
}

func createCommand() *cobra.Command {
	var warehouse string
	var specPath string

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a table in the warehouse",
		Example: "./lakesink create --warehouse /data/wh/orders --spec orders.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(specPath)
			if err != nil {
				return xerrors.Errorf("unable to read table spec: %w", err)
			}
			var spec tableSpec
			if err := json.Unmarshal(raw, &spec); err != nil {
				return xerrors.Errorf("unable to parse table spec: %w", err)
			}
			st := store.NewStoreLocal(&store.LocalConfig{TablePath: warehouse})
			if _, err := table.Create(st, abstract.NewTableSchema(spec.Columns), &spec.Options, logger.Log); err != nil {
				return xerrors.Errorf("unable to create table: %w", err)
			}
			logger.Log.Infof("created table at %s", warehouse)
			return nil
		},
	}
	cmd.Flags().StringVar(&warehouse, "warehouse", "", "table root directory")
	cmd.Flags().StringVar(&specPath, "spec", "", "path to the table spec json")
	_ = cmd.MarkFlagRequired("warehouse")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}
