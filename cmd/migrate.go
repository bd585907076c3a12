package cmd

import (
	"context"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/repository"
	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	"github.com/kinopsis/agensalud-mvp-sub003/core/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the channel store schema and exit",
	Run:   migrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate(_ *cobra.Command, _ []string) {
	cfg := config.Global
	db, err := database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[MIGRATION] %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	logrus.Infof("[MIGRATION] Migrating channel store (%s)...", cfg.Database.Driver)
	if err := repository.Migrate(context.Background(), db); err != nil {
		logrus.Fatalf("[MIGRATION] Failed: %v", err)
	}
	logrus.Info("[MIGRATION] Channel store is up to date")
}
