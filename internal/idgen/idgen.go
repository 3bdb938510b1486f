// Package idgen generates correlation identifiers for connections and
// request contexts, used to tie log lines for one connection together
// across its lifetime.
package idgen

import "github.com/google/uuid"

// New returns a fresh correlation ID.
func New() string {
	return uuid.NewString()
}
