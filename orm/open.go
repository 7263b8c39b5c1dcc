package orm

import (
	"database/sql"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//Open a gorm handle over db, so gorm models and plain SQL share one pool and the chunk transaction
func Open(driver string, db *sql.DB) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.New(mysql.Config{Conn: db})
	case "postgres", "pgx":
		dialector = postgres.New(postgres.Config{Conn: db})
	case "sqlite3":
		dialector = &sqlite.Dialector{DriverName: driver, Conn: db}
	default:
		return nil, errors.Errorf("no gorm dialector for driver:%v", driver)
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn), SkipDefaultTransaction: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open gorm with driver:%v", driver)
	}
	return gdb, nil
}
