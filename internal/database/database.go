package database

import (
	"evalhub/internal/config"
	logging "evalhub/internal/logging"
	"evalhub/internal/models"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init(log *zap.Logger) {
	var err error
	dbConf := config.Conf.Database
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		dbConf.Host, dbConf.User, dbConf.Password, dbConf.DBName, dbConf.Port)

	// Create our custom GORM logger
	gormLogger := logging.NewGormZapLogger(log)
	gormLogger.LogLevel = logger.Warn

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})

	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	log.Info("Database connection established successfully.")
	runMigrations(log)
}

func runMigrations(log *zap.Logger) {
	// GORM's AutoMigrate will create tables, columns, and foreign keys.
	// It will NOT create partial indexes, so we handle that separately.
	err := DB.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Credential{},
		&models.AuditEntry{},
	)
	if err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	log.Info("Database migrations completed successfully.")

	// One live session per (recipient, test). The orchestrator's
	// cleanup+validate steps close the race window in the common case;
	// this index closes it for good by failing the second insert.
	liveSessionIndex := `CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_live
		ON sessions (recipient_email, test_id)
		WHERE status IN ('pending', 'started');`
	if err := DB.Exec(liveSessionIndex).Error; err != nil {
		log.Fatal("Failed to create live-session unique index", zap.Error(err))
	}
	log.Info("Custom indexes ensured successfully.")
}
