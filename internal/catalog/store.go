// Package catalog is the relational store: the entity model and
// transactional boundaries every other component shares.
package catalog

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"customstream/internal/database"
)

// Store exposes a transaction handle plus per-entity repositories. The
// intake, engine, and image-delete flows run their multi-statement mutations
// inside a transaction obtained here; the worker's job-status updates are
// single statements on the base connection.
type Store struct {
	db *database.DB

	Streams   *StreamRepo
	Images    *ImageRepo
	Artifacts *ArtifactRepo
	Jobs      *JobRepo
}

// New builds a Store backed by db, wiring every entity repository to it.
func New(db *database.DB) *Store {
	return &Store{
		db:        db,
		Streams:   &StreamRepo{db: db},
		Images:    &ImageRepo{db: db},
		Artifacts: &ArtifactRepo{db: db},
		Jobs:      &JobRepo{db: db},
	}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTx(ctx)
}

// Health checks the database connection.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Queryer returns the store's base connection as a Queryer, for callers that
// have no transaction of their own to join: the publisher, the admin API's
// reads, and the worker's job-status updates.
func (s *Store) Queryer() Queryer {
	return s.db
}

// Queryer is satisfied by both *database.DB and *sqlx.Tx, letting every
// repository method run either standalone or inside a caller-managed
// transaction. Rebind lets the same Postgres-style `$1` query text run
// against the sqlite driver used in tests.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}
