package id

import "github.com/google/uuid"

// New returns a fresh job identifier. Job ids are opaque to callers and
// never reused.
func New() string {
	return uuid.NewString()
}
