package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"detbatch/internal/dao"
	"detbatch/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded batch runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch runs, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ledger := openLedger()
		defer ledger.Close()

		runs, err := ledger.ListBatches()
		if err != nil {
			logrus.WithError(err).Fatal("list batches")
		}
		printJSON(runs)
	},
}

type runDetail struct {
	*dao.BatchRun
	Rows []*dao.RowResult `json:"rows"`
}

var showSeq int

var runsShowCmd = &cobra.Command{
	Use:   "show <batch-id|last>",
	Short: "Show a batch run and its rows, or one row with --seq",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ledger := openLedger()
		defer ledger.Close()

		id := args[0]
		if id == resumeLast {
			var err error
			id, err = ledger.LastBatchId()
			if err != nil {
				logrus.WithError(err).Fatal("get last batch")
			}
		}
		run, err := ledger.GetBatch(id)
		if err != nil {
			logrus.WithError(err).Fatalf("get batch %s", id)
		} else if run == nil {
			logrus.Fatalf("batch %q not found", id)
		}
		if showSeq >= 0 {
			row, err := ledger.GetRow(id, showSeq)
			if err != nil {
				logrus.WithError(err).Fatalf("get row %d of batch %s", showSeq, id)
			} else if row == nil {
				logrus.Fatalf("batch %s has no row %d", id, showSeq)
			}
			printJSON(row)
			return
		}
		rows, err := ledger.GetRows(id)
		if err != nil {
			logrus.WithError(err).Fatalf("get rows of batch %s", id)
		}
		printJSON(runDetail{BatchRun: run, Rows: rows})
	},
}

func openLedger() *store.Ledger {
	conf, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	ledger, err := store.NewLedger(ledgerDir(conf), logrus.WithField("component", "ledger"))
	if err != nil {
		logrus.WithError(err).Fatal("open ledger")
	}
	return ledger
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logrus.WithError(err).Fatal("marshal json")
	}
	fmt.Fprintln(os.Stdout, string(data))
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsShowCmd.Flags().IntVar(&showSeq, "seq", -1, "Show only the row with this index position")
}
