package db

import (
	"fmt"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig tunes the underlying sql.DB.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPSQLStorage opens the postgres connection used by GormStorage.
func NewPSQLStorage(connString string, pool PoolConfig, log *logrus.Logger) (*gorm.DB, error) {
	if connString == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	db, err := gorm.Open(postgres.Open(connString), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log, logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return db, nil
}

// Tables lists every model in migration order.
func Tables() []interface{} {
	return []interface{}{
		&models.User{},
		&models.StockAlert{},
		&models.PortfolioItem{},
		&models.AlertPreference{},
		&models.TriggerRecord{},
		&models.Notification{},
		&models.Device{},
		&models.EducationContent{},
		&models.CoachingSession{},
		&models.Coupon{},
		&models.Discount{},
		&models.WebhookEvent{},
	}
}

func Migrate(db *gorm.DB, log *logrus.Logger) error {
	log.Info("Starting database migrations...")
	for _, model := range Tables() {
		log.Debugf("Migrating %T", model)
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %T: %w", model, err)
		}
	}
	log.Info("Migrations completed successfully")
	return nil
}

// DropTables drops the given tables, or every table when none are given.
// Tables are dropped in reverse migration order.
func DropTables(db *gorm.DB, log *logrus.Logger, tables []interface{}) error {
	if len(tables) == 0 {
		all := Tables()
		for i := len(all) - 1; i >= 0; i-- {
			tables = append(tables, all[i])
		}
	}
	for _, table := range tables {
		if err := db.Migrator().DropTable(table); err != nil {
			log.Warnf("Warning dropping table %T: %v", table, err)
			continue
		}
		log.Infof("Table %T dropped", table)
	}
	return nil
}

// TableByName resolves a model from its Go type name, as typed on the clear-db prompt.
func TableByName(name string) (interface{}, bool) {
	for _, t := range Tables() {
		if fmt.Sprintf("%T", t) == "*models."+name {
			return t, true
		}
	}
	return nil, false
}
