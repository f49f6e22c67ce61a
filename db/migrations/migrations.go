package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/labstack/gommon/log"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

// Run применяет все миграции, встроенные в бинарник
func Run(db *sql.DB) error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	log.Infof("running migrations from embedded %s/", dir)
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Version текущая версия схемы
func Version(db *sql.DB) (int64, error) {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
