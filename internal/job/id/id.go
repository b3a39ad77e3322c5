// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// IDs are random UUIDs, opaque to callers and safe to use in paths and URLs.
func Generate() string {
	return uuid.NewString()
}
