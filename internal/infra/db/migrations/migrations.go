package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

var dirs = map[string]string{
	DialectPostgres: "postgres",
	DialectSQLite:   "sqlite",
}

// Up applies every pending migration for dialect.
func Up(db *sql.DB, dialect string, logger *zerolog.Logger) error {
	dir, ok := dirs[dialect]
	if !ok {
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if logger != nil {
		goose.SetLogger(&gooseLogger{log: logger})
	} else {
		goose.SetLogger(goose.NopLogger())
	}
	goose.SetBaseFS(files)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	log *zerolog.Logger
}

func (g *gooseLogger) Printf(format string, v ...interface{}) { g.log.Info().Msgf(format, v...) }
func (g *gooseLogger) Fatalf(format string, v ...interface{}) { g.log.Fatal().Msgf(format, v...) }
