package catalog

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"customstream/internal/database"
)

var registerSQLiteOnce sync.Once

// newTestStore opens an in-memory sqlite database, registers a `now()`
// function (sqlite has none built in, unlike Postgres), and lays down a
// schema compatible with the repository queries in this package.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	registerSQLiteOnce.Do(func() {
		sql.Register("sqlite3_customstream_test", &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("now", func() string {
					return time.Now().UTC().Format("2006-01-02 15:04:05")
				}, false)
			},
		})
	})

	db, err := sqlx.Open("sqlite3_customstream_test", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return New(database.NewFromSQLX(db))
}

const testSchema = `
CREATE TABLE streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL,
	datatype TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	source_index_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id INTEGER NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	image_type TEXT NOT NULL DEFAULT 'mirrored',
	status TEXT NOT NULL DEFAULT 'pending',
	origin_product_url TEXT NOT NULL DEFAULT '',
	origin_index_url TEXT NOT NULL DEFAULT '',
	os TEXT NOT NULL DEFAULT '',
	release TEXT NOT NULL DEFAULT '',
	release_codename TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	arch TEXT NOT NULL DEFAULT '',
	subarch TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL DEFAULT '',
	kflavor TEXT NOT NULL DEFAULT '',
	krel TEXT NOT NULL DEFAULT '',
	build_id TEXT NOT NULL DEFAULT '',
	meta TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (stream_id, product_id)
);

CREATE TABLE artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	image_id INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	ftype TEXT NOT NULL DEFAULT '',
	relative_path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	sha256 TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE mirror_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id TEXT NOT NULL,
	index_url TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	message TEXT NOT NULL DEFAULT '',
	progress INTEGER NOT NULL DEFAULT 0,
	image_id INTEGER REFERENCES images(id) ON DELETE SET NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at DATETIME,
	finished_at DATETIME
);
`
