package mcdb

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteInMemoryDSN is a shared in memory sqlite database. Tests that need isolation
// should use NewSqliteMemoryDSN instead.
const SqliteInMemoryDSN = "file::memory:?cache=shared"

func MakeDSNFromEnv() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_DATABASE"))
}

// NewSqliteMemoryDSN returns a DSN for a named in memory database, so each caller
// gets its own database.
func NewSqliteMemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

type NullLogger struct{}

func (l *NullLogger) Printf(_ string, _ ...interface{}) {
	// do nothing
}

func newGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(&NullLogger{},
			logger.Config{
				SlowThreshold:             time.Second * 5,
				LogLevel:                  logger.Silent,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      true,
				Colorful:                  false,
			}),
		TranslateError: true,
	}
}

// OpenSqlite opens a sqlite database. The pool is limited to a single connection,
// sqlite serializes writers anyway and this avoids "database is locked" errors.
func OpenSqlite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), newGormConfig())
	if err != nil {
		return nil, err
	}

	sqlitedb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlitedb.SetMaxOpenConns(1)

	return db, nil
}

const maxDBRetries = 5

// MustConnectToDB will attempt to connect to the database configured in settings
// maxDBRetries times. If it isn't successful after that number of retries then it
// will call log.Fatalf(), which will cause the server to exit. Between retry attempts
// it will sleep for 3 seconds.
func MustConnectToDB(settings config.Settings) *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	retryCount := 1
	for {
		db, err = connect(settings)
		switch {
		case err == nil:
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open %s db: %s", settings.DBDriver, err)
		default:
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

func connect(settings config.Settings) (*gorm.DB, error) {
	if settings.DBDriver == "sqlite" {
		return OpenSqlite(settings.SqlitePath)
	}

	return gorm.Open(mysql.Open(MakeDSNFromEnv()), newGormConfig())
}

// RunMigrations creates or updates the tables for all models.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&mcmodel.User{},
		&mcmodel.TransferSession{},
		&mcmodel.TransferChunk{},
		&mcmodel.TransferHistory{},
	)
}
