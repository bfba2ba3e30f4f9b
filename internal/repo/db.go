package repo

import (
	"log"

	"crash-service/internal/config"
	"crash-service/internal/model"
	"crash-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var DB *gorm.DB

func InitDB() {
	dsn := config.GlobalConfig.Database.DSN
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Log.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}

	if err := DB.AutoMigrate(Models()...); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
}

// Models lists every persisted record; tests reuse it against sqlite.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Wallet{},
		&model.Round{},
		&model.Bet{},
		&model.RiskSettings{},
		&model.BillingLog{},
	}
}

// ForUpdate applies a row-level lock on dialects that support it. The
// sqlite databases used in tests serialize writers on their own and reject
// the FOR UPDATE syntax.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
