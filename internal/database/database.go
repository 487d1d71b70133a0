package database

import (
	"fmt"

	"earshot/internal/config"
	logging "earshot/internal/logging"
	"earshot/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Init connects to postgres and runs migrations.
func Init(log *zap.Logger, dbConf config.DatabaseConfig) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		dbConf.Host, dbConf.User, dbConf.Password, dbConf.DBName, dbConf.Port)

	gormLogger := logging.NewGormZapLogger(log)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	log.Info("Database connection established successfully.")

	if err := Migrate(DB); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	log.Info("Database migrations completed successfully.")
}

// Migrate creates tables, columns and foreign keys for all models. Exposed
// separately so tests can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Participant{},
		&models.Condition{},
		&models.Trial{},
	)
}
