package ledger

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the ledger in a SQLite file.
type SQLiteStore struct {
	sqlStore
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection keeps transactions from
	// tripping over each other with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{sqlStore{db: db, bind: questionMarks}}, nil
}
