package models

import "time"

// Artifact is a single downloaded file (kernel, initrd, root filesystem,
// manifest) owned by an Image; deleted when the Image is deleted or
// superseded.
type Artifact struct {
	ID           int       `db:"id" json:"id"`
	ImageID      int       `db:"image_id" json:"image_id"`
	Name         string    `db:"name" json:"name"`
	Ftype        string    `db:"ftype" json:"ftype"`
	RelativePath string    `db:"relative_path" json:"relative_path"`
	Size         int64     `db:"size" json:"size"`
	SHA256       string    `db:"sha256" json:"sha256"`
	SourceURL    string    `db:"source_url" json:"source_url"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
