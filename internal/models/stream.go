package models

import "time"

// Stream groups related products published together under one Simplestream
// products file.
type Stream struct {
	ID             int       `db:"id" json:"id"`
	StreamID       string    `db:"stream_id" json:"stream_id"`
	Path           string    `db:"path" json:"path"`
	Datatype       string    `db:"datatype" json:"datatype"`
	Format         string    `db:"format" json:"format"`
	SourceIndexURL string    `db:"source_index_url" json:"source_index_url"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	Images []Image `db:"-" json:"images,omitempty"`
}
