package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// OpenFileDB opens (creating if needed) the bridge database at path.
// WAL keeps the ticker workers' writes from blocking reader queries;
// busy_timeout covers the rare write/write collision between workers.
func OpenFileDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemoryDB returns a private in-memory database. Used by tests and
// by ephemeral local runs.
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// a second pool connection to a :memory: db would see an empty schema
	db.SetMaxOpenConns(1)
	return db, nil
}
