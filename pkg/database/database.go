package database

import (
	"corrfuzz/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewDBConnection connects to postgres and migrates the objective table. It
// returns nil when no database is configured.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) *gorm.DB {
	connectionString := appConfig.DatabaseURL
	if connectionString == "" {
		logger.Debug("no database configured")
		return nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	if err := db.AutoMigrate(&Objective{}); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	logger.Debug("connected to database")
	return db
}
