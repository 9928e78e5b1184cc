// Package uuid generates the identifiers used for identities, uploads and
// security log entries.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// NewOrdered returns a time-ordered (version 7) UUID string. Lexical order of
// the returned strings follows creation time, which the security log relies
// on for newest-first listing.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
