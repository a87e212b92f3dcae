package database

import (
	"log"
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "1",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&MinerScore{}, &RoundRecord{}, &ScoreVersion{})
			},
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable(&MinerScore{}, &RoundRecord{}, &ScoreVersion{})
			},
		},
		{
			ID: "2",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&OrganicPenalty{})
			},
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable(&OrganicPenalty{})
			},
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// This is run by the migrator if no previous migration is detected. It
		// allows it to bypass running all the migrations sequentially and just
		// create the latest database state.

		log.Println("clean database detected, running full schema initialization")

		dbType := db.Dialector.Name()
		if dbType == "sqlite" || dbType == "sqlite3" {
			// Sqlite does not enable foreign key constraints by default, so we need to enable them manually.
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				slog.Error("error enabling foreign keys for SQLite", "error", err)
			}
		}

		return db.AutoMigrate(
			&MinerScore{}, &RoundRecord{}, &OrganicPenalty{}, &ScoreVersion{},
		)
	})

	return migrator
}
