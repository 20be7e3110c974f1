package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // register sqlite driver
)

// journalPragmas are applied by the driver to every new connection.
var journalPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// Open opens the journal database at path and brings its schema up to date.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// Writer queue and API reads share one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func dataSourceName(path string) string {
	query := url.Values{}
	for _, pragma := range journalPragmas {
		query.Add("_pragma", pragma)
	}

	return "file:" + path + "?" + query.Encode()
}
