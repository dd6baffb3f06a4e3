package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/pkg/logger"
)

var DB *gorm.DB

// connectRetries bounds the startup retry loop; each failure waits one second
// before the next attempt, matching the server's connect backoff contract.
const connectRetries = 30

// DSN builds the MySQL connection string.
func DSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)
}

// Init opens the database and configures the connection pool: bounded open
// connections, a small idle set, and idle eviction after max_idle_time so
// connections never outlive typical server-side idle timeouts.
func Init(cfg *config.DatabaseConfig) error {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	var err error
	for attempt := 0; attempt < connectRetries; attempt++ {
		DB, err = gorm.Open(mysql.Open(DSN(cfg)), gormConfig)
		if err == nil {
			break
		}
		logger.Warn("db connect problem, waiting", zap.Error(err))
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.MaxIdleTime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	return nil
}

// Healthy pings the database; used by the heartbeat.
func Healthy() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close shuts the pool down.
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB returns the shared database handle.
func GetDB() *gorm.DB {
	return DB
}
