package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"detbatch/internal/model"
)

var updateDBCommand = &cobra.Command{
	Use:   "updatedb",
	Short: "Update database tables",
	Run: func(cmd *cobra.Command, args []string) {
		conf, err := loadConfig()
		if err != nil {
			logrus.Fatal("load config error, ", err.Error())
		}

		db, err := model.InitDB(conf.DB)
		if err != nil {
			logrus.Fatal("failed to init database", err)
		}
		defer func() {
			sqlDb, _ := db.DB()
			sqlDb.Close()
		}()

		err = model.AutoMigrate(db)
		if err != nil {
			logrus.Fatal("failed to auto migrate database", err)
		} else {
			logrus.Infof("Database tables update successfully")
		}
	},
}
