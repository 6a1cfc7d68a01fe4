package storage

import (
	"io"
	"time"
)

// Storage is the write side of a file backend. Paths are slash-separated and
// relative to the backend's root.
type Storage interface {
	// Save stores a file at the given path. Files are written once at
	// ingestion and never mutated in place.
	Save(path string, r io.Reader) error

	// Delete removes a file at the given path. Deleting an absent file is
	// not an error.
	Delete(path string) error
}

// URLSigner is implemented by backends that can hand out time-limited
// direct-download URLs for their files.
type URLSigner interface {
	PresignedURL(path string, expiry time.Duration) (string, error)
}
