// Package catalogdb keeps an index of closed batch files.
// The CSV files stay the source of truth, the catalog only records
// where they are and what they should contain.
// Only sensor_logger writes to it, any service may read it.
package catalogdb

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Catalog struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open creates the database file when needed and applies migrations.
func Open(path string, log *logrus.Entry) (*Catalog, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// sqlite allows one writer, keep the pool from contending with itself
	db.SetMaxOpenConns(1)

	// Create DB before migrations
	if _, err := db.Exec("SELECT 1;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog %s: %w", path, err)
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)

	c := &Catalog{
		db:  db,
		log: log.WithField("component", "catalogdb"),
	}
	c.log.WithField("path", path).Debug("catalog ready")
	return c, nil
}

func (c *Catalog) DB() *sql.DB {
	return c.db
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
