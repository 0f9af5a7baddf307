package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"detbatch/internal/dao"
	"detbatch/internal/model"
	"detbatch/internal/table"
)

var importBatchId string

var importCmd = &cobra.Command{
	Use:   "import <table.csv>...",
	Short: "Load detection tables into the database",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf, err := loadConfig()
		if err != nil {
			logrus.WithError(err).Fatal("load config")
		}

		db, err := model.InitDB(conf.DB)
		if err != nil {
			logrus.WithError(err).Fatal("failed to init database")
		}
		defer func() {
			sqlDB, _ := db.DB()
			sqlDB.Close()
		}()

		total := 0
		for _, p := range args {
			records, err := table.ReadDetectionsFile(p)
			if err != nil {
				logrus.WithError(err).Fatalf("read table %s", p)
			}
			filename := tableFilename(conf.Output.TablePath, p, records)
			if filename == "" {
				logrus.Warnf("cannot tell the video of empty table %s from %q, old rows kept", p, conf.Output.TablePath)
			}
			if err := model.InsertDetections(db, importBatchId, filename, model.FromRecords(importBatchId, records)); err != nil {
				logrus.WithError(err).Fatalf("import table %s", p)
			}
			logrus.Infof("imported %d detections from %s", len(records), p)
			total += len(records)
		}

		count, err := model.CountDetections(db, importBatchId)
		if err != nil {
			logrus.WithError(err).Fatal("count detections")
		}
		logrus.Infof("imported %d detections from %d tables, %d stored", total, len(args), count)
	},
}

// tableFilename is the video stem a detection table belongs to: the filename
// of its records, or else the stem encoded in the table's name.
func tableFilename(template, p string, records []dao.DetectionRecord) string {
	if len(records) > 0 {
		return records[0].Filename
	}
	stem, _ := dao.StemFromPath(template, p)
	return stem
}

func init() {
	importCmd.Flags().StringVar(&importBatchId, "batch-id", "", "Batch id stored with the imported rows")
}
